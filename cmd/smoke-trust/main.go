package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"trustmesh.org/internal/cache"
	"trustmesh.org/internal/stix"
	"trustmesh.org/internal/trust"
	"trustmesh.org/internal/validate"
)

// Exercises the full trust path end to end against the in-memory store:
// relationship lifecycle, resolution, dispatcher gates and anonymization.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const (
		orgA = "0c6b8f9e-bf21-4d8a-9d0a-64a4e2b0f7b3"
		orgB = "7f1d2c44-9a31-4e0f-8b6d-2f9a6c1e5d07"
		user = "9d2f6a80-1b3c-4d5e-8f70-a1b2c3d4e5f6"
	)

	store := trust.NewInMemory()
	svc, err := trust.NewService(store)
	if err != nil {
		log.Fatalf("trust service: %v", err)
	}
	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtins: %v", err)
	}

	counters := cache.NewInMemory()
	defer counters.Close()
	security := validate.NewSecurityValidator(counters, store, validate.WithSecret("smoke-secret"))
	validator, err := validate.NewValidator(security, store, svc)
	if err != nil {
		log.Fatalf("validator: %v", err)
	}

	out := validator.Validate(ctx, validate.OpCreateRelationship, map[string]any{
		"user":             user,
		"organization":     orgA,
		"source_org":       orgA,
		"target_org":       orgB,
		"trust_level_name": trust.LevelHigh,
	})
	if !out.Valid {
		log.Fatalf("create validation failed: %v", out.Errors)
	}

	rel, err := svc.CreateRelationship(ctx, trust.CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       trust.LevelHigh,
	})
	if err != nil {
		log.Fatalf("create relationship: %v", err)
	}
	if _, err := svc.ApproveRelationship(ctx, rel.ID, orgA); err != nil {
		log.Fatalf("approve by source: %v", err)
	}
	if _, err := svc.ApproveRelationship(ctx, rel.ID, orgB); err != nil {
		log.Fatalf("approve by target: %v", err)
	}

	res, err := svc.Resolve(ctx, orgA, orgB)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	if res.TrustValue != 75 || res.Via != "relationship" {
		log.Fatalf("unexpected resolution: %+v", res)
	}

	obj, _, err := svc.AnonymizeForRequester(ctx, orgA, orgB, stix.Object{
		"type":           "indicator",
		"name":           "smoke indicator",
		"created":        "2026-03-14T09:21:44Z",
		"created_by_ref": "identity--4a1c9f60-7d6a-4bd7-9a54-fc1a7a40f8f1",
	})
	if err != nil {
		log.Fatalf("anonymize: %v", err)
	}
	if _, leaked := obj["created_by_ref"]; leaked {
		log.Fatal("attribution survived minimal anonymization")
	}

	blocked := validator.Validate(ctx, validate.OpCreateRelationship, map[string]any{
		"user":             user,
		"source_org":       orgA,
		"target_org":       orgB,
		"trust_level_name": trust.LevelLow,
		"notes":            "'; DROP TABLE trust_relationships; --",
	})
	if blocked.Valid {
		log.Fatal("sanitization gate let an injection payload through")
	}

	fmt.Printf("✅ trust smoke test passed: relationship=%s trust=%d\n", rel.ID, res.TrustValue)
}
