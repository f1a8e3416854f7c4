package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/graphrun/graphrun/checkpoint/pgstore"
	"github.com/graphrun/graphrun/checkpoint/redisstore"
	"github.com/graphrun/graphrun/checkpoint/sqlitestore"
)

// store is the subset of compose.CheckPointStore the CLI needs.
type store interface {
	Get(ctx context.Context, checkPointID string) ([]byte, bool, error)
	Set(ctx context.Context, checkPointID string, checkPoint []byte) error
}

func openStore(ctx context.Context, backend, dsn string) (store, func(), error) {
	switch backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: dsn})
		return redisstore.New(client), func() { client.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pgStore := pgstore.New(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgStore, pool.Close, nil
	case "sqlite":
		sqliteStore, err := sqlitestore.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqliteStore, func() { sqliteStore.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want redis, postgres, or sqlite)", backend)
	}
}

func newCheckpointCmd() *cobra.Command {
	var backend, dsn string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect a checkpoint store",
	}
	cmd.PersistentFlags().StringVar(&backend, "backend", "sqlite", "checkpoint store backend: redis, postgres, or sqlite")
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "graphrun.db", "backend connection string (addr/conninfo/path)")

	cmd.AddCommand(newCheckpointGetCmd(&backend, &dsn))
	cmd.AddCommand(newCheckpointSetCmd(&backend, &dsn))

	return cmd
}

func newCheckpointGetCmd(backend, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a persisted checkpoint's bytes, pretty-printed as JSON when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := openStore(ctx, *backend, *dsn)
			if err != nil {
				return err
			}
			defer closeFn()

			data, exists, err := s.Get(ctx, args[0])
			if err != nil {
				log.WithField("checkpoint_id", args[0]).WithError(err).Error("checkpoint store read failed")
				return err
			}
			if !exists {
				return fmt.Errorf("checkpoint %q not found", args[0])
			}

			var pretty map[string]any
			if json.Unmarshal(data, &pretty) == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				cmd.Println(string(out))
				return nil
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func newCheckpointSetCmd(backend, dsn *string) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Write raw bytes into a checkpoint store slot (operator recovery use only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile == "" {
				return fmt.Errorf("--from-file is required")
			}
			ctx := cmd.Context()
			s, closeFn, err := openStore(ctx, *backend, *dsn)
			if err != nil {
				return err
			}
			defer closeFn()

			data, err := readFile(fromFile)
			if err != nil {
				return err
			}
			if err := s.Set(ctx, args[0], data); err != nil {
				log.WithField("checkpoint_id", args[0]).WithError(err).Error("checkpoint store write failed")
				return err
			}
			cmd.Printf("wrote checkpoint %s (%d bytes)\n", args[0], len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "path to the checkpoint bytes to write")
	return cmd
}
