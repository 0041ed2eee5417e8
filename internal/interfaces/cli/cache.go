package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/subsim/internal/infrastructure/database/redis"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Result cache maintenance",
	}
	cmd.AddCommand(newCachePurgeCmd())
	return cmd
}

// purgePrefix selects cached match lists, all of them or those of one
// library version.
func purgePrefix(libraryVersion string) string {
	if libraryVersion == "" {
		return "match:"
	}
	return "match:" + libraryVersion + ":"
}

func newCachePurgeCmd() *cobra.Command {
	var libraryVersion string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached match lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cc.Config.Redis.Enabled {
				return errors.New(errors.ErrCodeValidation, "cache purge requires redis").WithDetail("set redis.enabled")
			}
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			client, err := redis.NewClient(ctx, cc.Config.Redis, cc.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			cache := redis.NewResultCache(client, cc.Logger, redis.WithPrefix(cc.Config.Redis.KeyPrefix))
			deleted, err := cache.Invalidate(ctx, purgePrefix(libraryVersion))
			if err != nil {
				return err
			}
			cc.Logger.Info("result cache purged",
				logging.String("library_version", libraryVersion),
				logging.Int64("deleted", deleted))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d cached entries\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryVersion, "library-version", "", "only purge entries of this library version")
	return cmd
}
