// expressctl 运维命令行：直接读写共享存储中的额度与价格。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"expressmail/backend/internal/config"
	"expressmail/backend/internal/service"
	"expressmail/backend/internal/storage"
	redisstore "expressmail/backend/internal/storage/redis"
)

// 运维操作的授予来源
const cliSource = "cli"

func main() {
	cmd := &cli.Command{
		Name:    "expressctl",
		Usage:   "ExpressMail operations tool",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "Redis address",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("EXPRESSMAIL_REDIS_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Sources: cli.EnvVars("EXPRESSMAIL_REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				Sources: cli.EnvVars("EXPRESSMAIL_REDIS_DB"),
			},
			&cli.IntFlag{
				Name:    "free-limit",
				Usage:   "Free daily mailbox limit used for status output",
				Value:   3,
				Sources: cli.EnvVars("EXPRESSMAIL_QUOTA_FREE_DAILY_LIMIT"),
			},
		},
		Commands: []*cli.Command{
			grantCommand,
			revokeCommand,
			statusCommand,
			pricingCommand,
			mailboxesCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

var grantCommand = &cli.Command{
	Name:      "grant",
	Usage:     "Grant unlimited mailboxes to an identity",
	ArgsUsage: "<identity>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEntitlements(ctx, cmd, func(ent *service.EntitlementService, identity string) error {
			if err := ent.GrantUnlimited(ctx, identity, cliSource); err != nil {
				return err
			}
			fmt.Printf("✅ %s is now unlimited\n", identity)
			return nil
		})
	},
}

var revokeCommand = &cli.Command{
	Name:      "revoke",
	Usage:     "Revoke unlimited mailboxes from an identity",
	ArgsUsage: "<identity>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEntitlements(ctx, cmd, func(ent *service.EntitlementService, identity string) error {
			if err := ent.RevokeUnlimited(ctx, identity, cliSource); err != nil {
				return err
			}
			fmt.Printf("✅ %s is back on the free tier\n", identity)
			return nil
		})
	},
}

var statusCommand = &cli.Command{
	Name:      "status",
	Usage:     "Show today's usage and tier for an identity",
	ArgsUsage: "<identity>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEntitlements(ctx, cmd, func(ent *service.EntitlementService, identity string) error {
			status, err := ent.Status(ctx, identity)
			if err != nil {
				return err
			}
			tier := "free"
			if status.Unlimited {
				tier = "unlimited"
			}
			fmt.Printf("Identity: %s\nTier:     %s\nDate:     %s\nUsed:     %d/%d\n",
				status.Identity, tier, status.Date, status.Count, status.Limit)
			return nil
		})
	},
}

var pricingCommand = &cli.Command{
	Name:      "pricing",
	Usage:     "Set plan prices for a country (e.g. pricing IN week=49 month=149 currency=INR)",
	ArgsUsage: "<country> <field=value>...",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 2 {
			return errors.New("usage: pricing <country> <field=value>...")
		}

		values := make(map[string]string, cmd.Args().Len()-1)
		for _, arg := range cmd.Args().Tail() {
			field, value, ok := strings.Cut(arg, "=")
			if !ok || field == "" {
				return fmt.Errorf("invalid field %q, expected field=value", arg)
			}
			values[field] = value
		}

		kv, err := connect(ctx, cmd)
		if err != nil {
			return err
		}
		defer kv.Close()

		country, err := service.NewPricingService(kv, nil).Set(ctx, cmd.Args().First(), values)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Pricing for %s updated (%d fields)\n", country, len(values))
		return nil
	},
}

var mailboxesCommand = &cli.Command{
	Name:  "mailboxes",
	Usage: "List live mailboxes and their remaining lifetime",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		kv, err := connect(ctx, cmd)
		if err != nil {
			return err
		}
		defer kv.Close()

		store := storage.NewMailboxStore(kv)
		addresses, err := store.LiveAddresses(ctx)
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			fmt.Println("No live mailboxes")
			return nil
		}
		for _, address := range addresses {
			remaining, err := store.Remaining(ctx, address)
			if err != nil {
				continue
			}
			fmt.Printf("%-40s %s\n", address, remaining.Truncate(time.Second))
		}
		return nil
	},
}

// withEntitlements 连接存储并对第一个参数执行额度操作
func withEntitlements(ctx context.Context, cmd *cli.Command, fn func(*service.EntitlementService, string) error) error {
	identity := cmd.Args().First()
	if identity == "" {
		return errors.New("identity is required")
	}

	kv, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer kv.Close()

	ent := service.NewEntitlementService(kv, int(cmd.Int("free-limit")), zap.NewNop(), nil)
	return fn(ent, identity)
}

func connect(ctx context.Context, cmd *cli.Command) (*redisstore.Client, error) {
	return redisstore.New(ctx, config.RedisConfig{
		Address:  cmd.String("redis"),
		Password: cmd.String("redis-password"),
		DB:       int(cmd.Int("redis-db")),
	}, zap.NewNop())
}
