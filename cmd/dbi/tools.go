package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/internal/docdb"
	"github.com/mir00r/subscriber-dbi/internal/domain"
	"github.com/mir00r/subscriber-dbi/internal/jsondb"
	"github.com/mir00r/subscriber-dbi/internal/middleware"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check APN profile documents without loading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				n, err := validateFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d profiles)\n", path, n)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return jsondb.Validate(f)
}

func newResolveCmd() *cobra.Command {
	var (
		file     string
		apn      string
		dnn      string
		charging int32
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve session QoS from a profile document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dnn == "" {
				dnn = apn
			}
			profiles := jsondb.New(1, nil)
			defer profiles.Final()

			if err := profiles.Load(cmd.Context(), file, apn); err != nil {
				return err
			}
			data, err := profiles.SessionData(cmd.Context(), domain.SessionQuery{
				DNN:                    dnn,
				ChargingCharacteristic: charging,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "APN profile document")
	cmd.Flags().StringVar(&apn, "apn", "*", "APN the document is loaded under")
	cmd.Flags().StringVar(&dnn, "dnn", "", "DNN to resolve (default: the APN)")
	cmd.Flags().Int32Var(&charging, "cc", domain.DefaultChargingCharacteristic, "charging characteristic, -1 for the default profile")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTokenCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			auth, err := middleware.NewJWTAuthMiddleware(cfg.Admin.JWT, nil)
			if err != nil {
				return err
			}
			if auth == nil {
				return errors.New("jwt authentication is disabled")
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newSubscriberCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriber",
		Short: "Manage subscriber documents in the redis backend",
	}

	withDocs := func(ctx context.Context, fn func(*docdb.Backend) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.DocDB.Enabled {
			return errors.New("docdb is disabled")
		}
		docs, err := docdb.Dial(ctx, docdb.Options{
			Addr:        cfg.DocDB.Addr,
			Password:    cfg.DocDB.Password,
			DB:          cfg.DocDB.DB,
			KeyPrefix:   cfg.DocDB.KeyPrefix,
			DialTimeout: cfg.DocDB.DialTimeout,
		}, logger.NewNop())
		if err != nil {
			return err
		}
		defer docs.Final()
		return fn(docs)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "put FILE",
			Short: "Store a subscriber document, replacing any existing one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := readDocument(args[0])
				if err != nil {
					return err
				}
				return withDocs(cmd.Context(), func(docs *docdb.Backend) error {
					if err := docs.Put(cmd.Context(), doc); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", docdb.IMSIFromSUPI(doc.IMSI))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "get SUPI",
			Short: "Print a subscriber profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDocs(cmd.Context(), func(docs *docdb.Backend) error {
					data, err := docs.SubscriptionData(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), data)
				})
			},
		},
		&cobra.Command{
			Use:   "delete SUPI",
			Short: "Remove a subscriber document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDocs(cmd.Context(), func(docs *docdb.Backend) error {
					return docs.Delete(cmd.Context(), args[0])
				})
			},
		},
	)
	return cmd
}

func readDocument(path string) (*docdb.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc docdb.Document
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid subscriber document %s: %w", path, err)
	}
	return &doc, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
