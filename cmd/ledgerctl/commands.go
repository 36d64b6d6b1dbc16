package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/auth"
	"github.com/richardliu001/treasury-service/internal/config"
	"github.com/richardliu001/treasury-service/internal/logger"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/richardliu001/treasury-service/internal/repo"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(model.All()...); err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			fmt.Println("schema up to date")
			if !seed {
				return nil
			}
			return seedReference(db)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the role and payment method reference rows")
	return cmd
}

// seedReference inserts the roles and payment methods the workflow knows about.
func seedReference(db *gorm.DB) error {
	for _, r := range approval.RolesOf(approval.RoleAdmin, approval.RoleTreasury, approval.RoleBoard,
		approval.RoleAdminGroup, approval.RoleMember).Roles() {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Role{Role: string(r)}).Error
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r, err)
		}
	}
	for _, name := range model.PaymentMethodNames {
		pm := model.PaymentMethod{Name: name, TypeOfProof: "BOTH", IsActive: true}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&pm).Error; err != nil {
			return fmt.Errorf("seed payment method %s: %w", name, err)
		}
	}
	fmt.Println("reference data seeded")
	return nil
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil).GenerateToken(id)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func quorumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quorum",
		Short: "Print the approvers and current threshold per transaction type",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			log, err := logger.NewLogger()
			if err != nil {
				return err
			}
			r := repo.NewRepository(db, nil, nil, log)
			ctx := cmd.Context()
			for _, t := range []approval.TransactionType{approval.TypeContribution, approval.TypeDonations, approval.TypeExpense} {
				rule := approval.RuleFor(t)
				pool := 0
				if rule.NeedsPool() {
					if pool, err = r.CountRoleHolders(ctx, r.DB(ctx), rule.Pool); err != nil {
						return err
					}
				}
				names := make([]string, 0, len(rule.Approvers))
				for _, a := range rule.Approvers {
					names = append(names, string(a))
				}
				threshold := "never"
				if n, ok := rule.Threshold(pool); ok {
					threshold = strconv.Itoa(n)
				}
				fmt.Printf("%-13s approvers=%-16s threshold=%s\n", t, strings.Join(names, ","), threshold)
			}
			return nil
		},
	}
}
