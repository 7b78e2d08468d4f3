package preload

import (
	"context"
	"encoding/json"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/model"
)

// nopStore satisfies behavior.ProfileStore without persisting anything.
type nopStore struct{}

func (nopStore) StoreOfflineData(context.Context, string, json.RawMessage, string) error { return nil }

func (nopStore) GetOfflineData(context.Context, string) (*model.OfflineEntry, error) {
	return nil, apperr.New(apperr.NotFound, "not found")
}

func (nopStore) DeleteOfflineData(context.Context, string) error { return nil }
