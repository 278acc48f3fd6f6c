package store

import (
	"context"

	"vocabvoice/pkg/model"
)

// ItemStore handles vocabulary items.
type ItemStore interface {
	GetItem(ctx context.Context, id model.ContentID) (*model.ContentItem, error)
	GetItems(ctx context.Context, ids []model.ContentID) ([]model.ContentItem, error)
	SaveItem(ctx context.Context, item *model.ContentItem) error
	ClearItems(ctx context.Context) error
}

// AssetStore records which generated file belongs to which slot.
type AssetStore interface {
	AssetFor(ctx context.Context, id model.ContentID, kind model.Kind) (model.AssetRecord, bool, error)
	RecordAsset(ctx context.Context, rec model.AssetRecord) error
	ListAssets(ctx context.Context) ([]model.AssetRecord, error)
	DeleteAsset(ctx context.Context, id model.ContentID, kind model.Kind) error
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
