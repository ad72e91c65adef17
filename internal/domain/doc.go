/*
Package domain holds the subscriber data types and the Backend interface every
data source implements.

A Backend answers session, authentication, MSISDN, IMS and subscription
queries. Two implementations exist: the json backend, which only resolves
session QoS from APN profile documents, and the redis backend, which stores
whole subscriber documents. Callers reach them through a dbi.Registry that
routes each query to the selected backend:

	registry := dbi.NewRegistry(log, jsondb.New(10, log))
	if err := registry.Select("json"); err != nil {
		return err
	}
	data, err := registry.SessionData(ctx, domain.SessionQuery{
		DNN:                    "internet",
		ChargingCharacteristic: domain.DefaultChargingCharacteristic,
	})

Errors are *errors.DBIError values and match the sentinels of the errors
package with errors.Is.
*/
package domain
