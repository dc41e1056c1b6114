// Command sagactl is the operator tooling for the saga engine: replay
// of stalled workflow steps and heartbeat liveness audits. Both
// commands exit 0 on completion regardless of audit outcome; alerts
// are error-log entries, not exit codes.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gocloud.dev/pubsub"

	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"

	"github.com/stakemint/sagad/internal/chain"
	"github.com/stakemint/sagad/internal/config"
	"github.com/stakemint/sagad/internal/dispatch"
	"github.com/stakemint/sagad/internal/handlers"
	"github.com/stakemint/sagad/internal/monitor"
	"github.com/stakemint/sagad/internal/nonce"
	"github.com/stakemint/sagad/internal/retry"
	"github.com/stakemint/sagad/internal/router"
	"github.com/stakemint/sagad/internal/server"
	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
	"github.com/stakemint/sagad/pkg/log"
)

const appName = "sagactl"

func main() {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Operator tooling for the saga engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(retryStepCmd(), monitorCronsCmd())

	slog.SetDefault(log.New(appName, os.Getenv("ENV"), "dev"))

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", log.Error(err))
		os.Exit(1)
	}
}

func retryStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-step <stepID>",
		Short: "Rewind and replay a stalled workflow step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stepID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || stepID == 0 {
				return cmd.Help()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := store.Open(cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer func() { _ = rdb.Close() }()

			topic, err := pubsub.OpenTopic(ctx, cfg.TopicURL)
			if err != nil {
				return err
			}
			defer shutdownTopic(topic)

			runner := retry.New(
				st,
				buildRouter(cfg, st, rdb, topic),
				server.NewViewCache(rdb, 0),
			)
			err = runner.RetryStep(ctx, api.StepID(stepID))
			if err != nil {
				// Replay trouble is reported, not escalated; the
				// operator reads the log and decides
				slog.Error("Step replay failed",
					log.StepID(api.StepID(stepID)),
					log.Error(err))
			}
			return nil
		},
	}
}

func monitorCronsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor-crons [process]",
		Short: "Audit worker-process heartbeats",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DatabaseDSN)
			if err != nil {
				return err
			}

			auditor := monitor.New(st)
			now := time.Now()

			var alerts []monitor.Alert
			if len(args) == 1 {
				alerts, err = auditor.AuditProcess(
					cmd.Context(), now, args[0],
				)
			} else {
				alerts, err = auditor.Audit(cmd.Context(), now)
			}
			if err != nil {
				slog.Error("Heartbeat audit failed", log.Error(err))
				return nil
			}

			slog.Info("Heartbeat audit finished",
				slog.Int("alerts", len(alerts)))
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildRouter assembles the same router the dispatch service runs, so
// a replayed step behaves identically to a broker-delivered one
func buildRouter(
	cfg *config.Config, st *store.Store, rdb *redis.Client,
	topic *pubsub.Topic,
) *router.Router {
	chains := chain.NewRegistry(cfg.ChainRPC)
	nonces := nonce.New(rdb, chains, nonce.Options{
		LockTTL: cfg.NonceLockTTL,
		Poll:    cfg.NoncePoll,
		Timeout: cfg.NonceTimeout,
	})
	registry := handlers.NewRegistry(&handlers.Deps{
		Chains: chains,
		Nonces: nonces,
	})
	return router.New(st, registry, dispatch.NewTopicPublisher(topic))
}

func shutdownTopic(topic *pubsub.Topic) {
	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()
	_ = topic.Shutdown(ctx)
}
