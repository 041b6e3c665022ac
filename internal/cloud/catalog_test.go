package cloud

import (
	"context"
	"errors"
	"testing"
)

const testCatalogYAML = `
pricing:
  defaults:
    monthly_cost: 50
    currency: USD
  providers:
    aws:
      ec2:
        monthly_cost: 100
        regions: [us-east-1, eu-west-1]
        tier_factors:
          basic: 0.5
          premium: 2.0
        alternatives:
          - service: lightsail
            monthly_cost: 40
          - service: fargate
            monthly_cost: 80
      s3:
        monthly_cost: 25
    azure:
      vm:
        monthly_cost: 110
        regions: [westeurope]
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalogFromBytes([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func TestServicePricingBaseCost(t *testing.T) {
	c := testCatalog(t)

	p, err := c.ServicePricing(context.Background(), "aws", "ec2", nil)
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	if p.MonthlyCost != 100 || p.Currency != "USD" {
		t.Fatalf("pricing = %+v", p)
	}
}

func TestServicePricingTierAndCount(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	p, err := c.ServicePricing(ctx, "AWS", "EC2", map[string]any{"tier": "premium", "instance_count": 3})
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	if p.MonthlyCost != 600 {
		t.Fatalf("premium x3 cost = %v, want 600", p.MonthlyCost)
	}

	p, err = c.ServicePricing(ctx, "aws", "ec2", map[string]any{"tier": "basic"})
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	if p.MonthlyCost != 50 {
		t.Fatalf("basic cost = %v, want 50", p.MonthlyCost)
	}

	// unknown tier leaves the base cost
	p, err = c.ServicePricing(ctx, "aws", "ec2", map[string]any{"tier": "platinum"})
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	if p.MonthlyCost != 100 {
		t.Fatalf("unknown tier cost = %v, want 100", p.MonthlyCost)
	}
}

func TestServicePricingFallsBackToDefault(t *testing.T) {
	c := testCatalog(t)

	p, err := c.ServicePricing(context.Background(), "gcp", "bigquery", nil)
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	if p.MonthlyCost != 50 {
		t.Fatalf("default cost = %v, want 50", p.MonthlyCost)
	}
}

func TestServicePricingUnknownWithoutDefault(t *testing.T) {
	c, err := NewCatalogFromBytes([]byte("pricing:\n  providers: {}\n"))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}

	_, err = c.ServicePricing(context.Background(), "gcp", "bigquery", nil)
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("err = %v, want ErrUnknownService", err)
	}
}

func TestServiceAvailability(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	ok, err := c.ServiceAvailability(ctx, "aws", "ec2", "eu-west-1")
	if err != nil || !ok {
		t.Fatalf("eu-west-1 = %v err=%v, want available", ok, err)
	}
	ok, err = c.ServiceAvailability(ctx, "aws", "ec2", "ap-south-1")
	if err != nil || ok {
		t.Fatalf("ap-south-1 = %v err=%v, want unavailable", ok, err)
	}
	// no region list means global
	ok, err = c.ServiceAvailability(ctx, "aws", "s3", "anywhere")
	if err != nil || !ok {
		t.Fatalf("s3 global = %v err=%v, want available", ok, err)
	}
	if _, err := c.ServiceAvailability(ctx, "gcp", "gke", "us"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("unknown service err = %v", err)
	}
}

func TestAlternativesSortedCheapestFirst(t *testing.T) {
	c := testCatalog(t)

	alts, err := c.AlternativeServices(context.Background(), "aws", "ec2", nil)
	if err != nil {
		t.Fatalf("alternatives: %v", err)
	}
	if len(alts) != 2 {
		t.Fatalf("alternatives = %d, want 2", len(alts))
	}
	if alts[0].Service != "lightsail" || alts[1].Service != "fargate" {
		t.Fatalf("order wrong: %+v", alts)
	}
}
