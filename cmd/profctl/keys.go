package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	config "profiler/configs"
	"profiler/pkg/auth"
	redisstore "profiler/pkg/storage/redis"
)

func newTokenCommand() *cobra.Command {
	var (
		user   string
		role   string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the HTTP API using JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			cfg := config.LoadConfig()
			svc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: cfg.JWTSecret, TokenExpiry: expiry})
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(user, user, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&user, "user", "", "user id placed in the token")
	f.StringVar(&role, "role", string(auth.RoleViewer), "admin, operator or viewer")
	f.DurationVar(&expiry, "expiry", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys stored in Redis",
	}

	var (
		name   string
		owner  string
		role   string
		expiry time.Duration
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			return withKeyStore(cmd, func(store *auth.RedisAPIKeyStore) error {
				info := auth.APIKeyInfo{Name: name, OwnerID: owner, Role: r}
				if expiry > 0 {
					info.ExpiresAt = time.Now().Add(expiry).Unix()
				}
				key, err := store.CreateKey(cmd.Context(), info)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	create.Flags().StringVar(&owner, "owner", "", "owning user id")
	create.Flags().StringVar(&role, "role", string(auth.RoleViewer), "admin, operator or viewer")
	create.Flags().DurationVar(&expiry, "expiry", 0, "key lifetime (0 never expires)")
	_ = create.MarkFlagRequired("owner")

	list := &cobra.Command{
		Use:   "list",
		Short: "List an owner's API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyStore(cmd, func(store *auth.RedisAPIKeyStore) error {
				keys, err := store.ListKeys(cmd.Context(), owner)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tROLE\tCREATED\tEXPIRES")
				for _, k := range keys {
					expires := "never"
					if k.ExpiresAt > 0 {
						expires = time.Unix(k.ExpiresAt, 0).Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Role,
						time.Unix(k.CreatedAt, 0).Format(time.RFC3339), expires)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "owning user id")
	_ = list.MarkFlagRequired("owner")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyStore(cmd, func(store *auth.RedisAPIKeyStore) error {
				return store.RevokeKey(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

// withKeyStore connects to the Redis instance the API server uses.
func withKeyStore(cmd *cobra.Command, fn func(*auth.RedisAPIKeyStore) error) error {
	cfg := config.LoadConfig()
	stream, err := redisstore.NewProfileStream(cfg.RedisAddr())
	if err != nil {
		return err
	}
	defer stream.Close()
	return fn(auth.NewRedisAPIKeyStore(stream.Client()))
}
