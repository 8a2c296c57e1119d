package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/config"
	"github.com/Wikid82/sentinel/backend/internal/database"
	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

func rules(entries ...models.AccessListRule) string {
	b, _ := json.Marshal(entries)
	return string(b)
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	// Seed access lists
	accessLists := []models.AccessList{
		{
			Name:        "Office network",
			Description: "Operators on the office VPN bypass rate limits",
			Type:        models.AccessListAllow,
			IPRules:     rules(models.AccessListRule{CIDR: "10.20.0.0/16", Description: "VPN pool"}),
			Enabled:     true,
		},
		{
			Name:        "Known scanners",
			Description: "Addresses seen probing the login endpoints",
			Type:        models.AccessListDeny,
			IPRules: rules(
				models.AccessListRule{CIDR: "198.51.100.0/24", Description: "documentation range"},
				models.AccessListRule{CIDR: "203.0.113.66", Description: "credential stuffing"},
			),
			Enabled: false,
		},
	}
	for _, acl := range accessLists {
		var existing models.AccessList
		if err := db.Where("name = ?", acl.Name).First(&existing).Error; err == nil {
			fmt.Printf("  Access list already exists: %s\n", acl.Name)
			continue
		}
		acl.UUID = uuid.NewString()
		if err := db.Create(&acl).Error; err != nil {
			log.Printf("Failed to seed access list %s: %v", acl.Name, err)
			continue
		}
		fmt.Printf("✓ Created access list: %s\n", acl.Name)
	}

	// Seed audit history so the dashboards have something to show
	auditLog := audit.New(audit.NewGormStore(db), audit.Options{})
	actor := audit.Actor{ID: "seed-user", SourceIP: "203.0.113.10", UserAgent: "seed/1.0"}
	for i := 0; i < 3; i++ {
		if err := auditLog.LogAuth(ctx, actor, models.ActionLoginFailure, models.AuthDetails{Method: "password", Reason: "invalid_password"}); err != nil {
			log.Printf("Failed to seed audit event: %v", err)
		}
	}
	if err := auditLog.LogAuth(ctx, actor, models.ActionLoginSuccess, models.AuthDetails{Method: "password", Success: true}); err != nil {
		log.Printf("Failed to seed audit event: %v", err)
	}
	if err := auditLog.LogSecurity(ctx, audit.Actor{SourceIP: "198.51.100.23"}, models.ActionSuspiciousActivity, models.SeverityCritical, models.SecurityDetails{
		Reason:   "suspicious_pattern",
		Detector: "path_traversal",
		Path:     "/api/v1/files",
		Method:   "GET",
	}); err != nil {
		log.Printf("Failed to seed audit event: %v", err)
	}
	if err := auditLog.Close(ctx); err != nil {
		log.Printf("Failed to flush audit events: %v", err)
	} else {
		fmt.Println("✓ Recorded sample audit events")
	}

	// Print a development token for the admin API
	if cfg.Security.JWTSecret != "" {
		jwt := identity.NewJWTProvider(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.SessionCookie)
		token, err := jwt.Issue(identity.Identity{UserID: "seed-admin", Role: identity.RoleAdmin, AccountStatus: identity.StatusActive}, 24*time.Hour)
		if err != nil {
			log.Printf("Failed to issue development token: %v", err)
		} else {
			fmt.Printf("✓ Development admin token (24h):\n  %s\n", token)
		}
	} else {
		fmt.Println("  Set SENTINEL_SECURITY__JWT_SECRET to print a development admin token")
	}

	fmt.Println("\n✓ Database seeding completed successfully!")
}
