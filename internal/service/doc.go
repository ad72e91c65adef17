/*
Package service holds long-running workers that keep the data layer current.

ProfileReloadService watches the APN profile documents named in the
configuration and reloads an APN whenever its document changes:

	prs, err := service.NewProfileReloadService(profiles, cfg.DBI.Profiles, log)
	if err != nil {
		return err
	}
	go prs.Run(ctx)

A document that fails validation is logged and ignored; the APN keeps
serving the profiles it had.
*/
package service
