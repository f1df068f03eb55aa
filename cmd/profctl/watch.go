package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	config "profiler/configs"
	"profiler/pkg/models"
	redisstore "profiler/pkg/storage/redis"
)

func newWatchCommand() *cobra.Command {
	var (
		group        string
		consumer     string
		failuresOnly bool
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow profiles published to the Redis stream",
		Long: `Watch reads the profile stream as a member of a consumer group and prints
each profile as it arrives. Entries are acknowledged once printed, so
several watchers sharing a group split the stream between them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			stream, err := redisstore.NewProfileStream(cfg.RedisAddr())
			if err != nil {
				return err
			}
			defer stream.Close()

			ctx := cmd.Context()
			if err := stream.EnsureGroup(ctx, group); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for ctx.Err() == nil {
				id, p, err := stream.Read(ctx, group, consumer, 5*time.Second)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					if id == "" {
						return err
					}
					// Undecodable entry: report and drop it.
					cmd.PrintErrf("skipping %s: %v\n", id, err)
				}
				if id == "" {
					continue
				}
				if p != nil && (!failuresOnly || p.Status != models.ProfileSuccess) {
					if jsonOut {
						if err := enc.Encode(p); err != nil {
							return err
						}
					} else {
						fmt.Fprintf(out, "%s  %-8s exit=%-4d %-8s %s  %s\n",
							p.CompletedAt.Format(time.RFC3339), p.Status, p.ExitCode,
							p.Duration(), p.Name, p.ID)
					}
				}
				if err := stream.Ack(ctx, group, id); err != nil && !errors.Is(err, ctx.Err()) {
					return err
				}
			}
			return nil
		},
	}

	hostname, _ := os.Hostname()
	f := cmd.Flags()
	f.StringVar(&group, "group", "profctl", "consumer group")
	f.StringVar(&consumer, "consumer", fmt.Sprintf("%s-%d", hostname, os.Getpid()), "consumer name within the group")
	f.BoolVar(&failuresOnly, "failures", false, "only print runs that did not succeed")
	f.BoolVar(&jsonOut, "json", false, "print one JSON profile per line")
	return cmd
}
