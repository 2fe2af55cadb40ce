package main

import (
	"context"
	"errors"
	"fmt"

	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func housekeepingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping",
		Short: "Purge expired subscribers, logs and pending-delete records once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			options := services.NewOptionService(rt.db, rt.deps.Cache)
			result, err := services.NewHousekeepingService(rt.db, rt.cfg.Housekeeping, options).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func webhooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhooks",
		Short: "Deliver due webhook queue entries once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := services.NewWebhookService(rt.db, rt.cfg.Webhooks).ProcessQueue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func bouncesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bounces",
		Short: "Scan all active bounce servers once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			servers := services.NewBounceServerService(rt.db, rt.deps.Proxy, rt.cfg.Bounce.Timeout)
			lists := services.NewListService(rt.db, rt.deps.Publisher)
			processor := services.NewBounceProcessor(rt.db, rt.cfg.Bounce, servers, lists, rt.deps.Publisher)

			result, err := processor.ProcessAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func quotaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset customer sending quotas",
	}

	c.AddCommand(&cobra.Command{
		Use:   "show <customer_uid>",
		Short: "Show the quota usage of a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuota(cmd.Context(), args[0], func(quota *services.QuotaService, customer *models.Customer) error {
				status, err := quota.GetQuotaStatus(cmd.Context(), customer.ID)
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "reset <customer_uid>",
		Short: "Start a new quota window for a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuota(cmd.Context(), args[0], func(quota *services.QuotaService, customer *models.Customer) error {
				if err := quota.ResetQuota(cmd.Context(), customer.ID); err != nil {
					return err
				}
				fmt.Printf("Quota reset for %s (%s)\n", customer.Email, customer.CustomerUID)
				return nil
			})
		},
	})
	return c
}

func withQuota(ctx context.Context, customerUID string, fn func(*services.QuotaService, *models.Customer) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	customer, err := services.NewCustomerService(rt.db).GetCustomerByUID(ctx, customerUID)
	if err != nil {
		return err
	}
	quota := services.NewQuotaService(rt.db, rt.deps.Cache, rt.deps.Publisher, rt.cfg.Quota.CacheTTL)
	return fn(quota, customer)
}

func adminCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "admin",
		Short: "Backend user maintenance",
	}

	c.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the configured admin account can log in",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			var users []models.User
			if err := rt.db.Find(&users).Error; err != nil {
				return fmt.Errorf("failed to query users: %w", err)
			}
			fmt.Printf("Backend users: %d\n", len(users))
			for _, user := range users {
				fmt.Printf("  ID: %d, Username: %s, Active: %t, Role: %s\n", user.ID, user.Username, user.IsActive, user.Role)
			}

			var admin models.User
			err = rt.db.Where("username = ?", rt.cfg.Auth.AdminUsername).First(&admin).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("admin user %q does not exist", rt.cfg.Auth.AdminUsername)
			}
			if err != nil {
				return err
			}
			if !admin.IsActive {
				return fmt.Errorf("admin user %q is inactive", admin.Username)
			}
			if !admin.CheckPassword(rt.cfg.Auth.AdminPassword) {
				return fmt.Errorf("password of %q does not match ADMIN_PASSWORD", admin.Username)
			}

			fmt.Printf("Admin user %q can log in\n", admin.Username)
			return nil
		},
	})
	return c
}
