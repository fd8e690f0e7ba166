package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

// Seed is the on-disk form of the listings and staff a store starts with
type Seed struct {
	Listings []models.Listing     `json:"listings"`
	Staff    []models.StaffMember `json:"staff"`
}

// SeedTarget is a store that accepts listing and staff upserts
type SeedTarget interface {
	UpsertListing(ctx context.Context, listing *models.Listing) error
	UpsertStaff(ctx context.Context, member *models.StaffMember) error
}

// LoadSeedFile applies the JSON seed at path to target
func LoadSeedFile(ctx context.Context, path string, target SeedTarget) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	seed, err := ApplySeed(ctx, f, target)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed, nil
}

// ApplySeed decodes a JSON seed and upserts listings before staff. Staff
// must belong to a listing in the same seed.
func ApplySeed(ctx context.Context, r io.Reader, target SeedTarget) (*Seed, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}

	listings := make(map[string]struct{}, len(seed.Listings))
	for i := range seed.Listings {
		listing := &seed.Listings[i]
		if err := target.UpsertListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("failed to upsert listings[%d]: %w", i, err)
		}
		listings[listing.ID] = struct{}{}
	}

	for i := range seed.Staff {
		member := &seed.Staff[i]
		if member.ID == "" {
			return nil, fmt.Errorf("staff[%d]: %w", i, models.NewValidationError("id", "staff id is required", nil))
		}
		if _, ok := listings[member.ListingID]; !ok {
			return nil, fmt.Errorf("staff %s: %w", member.ID, models.NewValidationError("listing_id", "staff must belong to a seeded listing", member.ListingID))
		}
		if err := target.UpsertStaff(ctx, member); err != nil {
			return nil, fmt.Errorf("failed to upsert staff %s: %w", member.ID, err)
		}
	}

	log.Info().Int("listings", len(seed.Listings)).Int("staff", len(seed.Staff)).Msg("Seed applied")
	return &seed, nil
}
