package repository

import (
	"context"

	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	"github.com/kimhsiao/ledgerlite/backend/internal/models"
)

var categoryTable = db.NewTable[models.Category](models.Category{}.TableName(),
	"id", "cached_at", "ttl_minutes", "sync_status", "last_sync_attempt", "sync_error",
	"name", "kind", "color", "parent_id")

// CategoryRepository stores categories.
type CategoryRepository struct {
	*Repository[models.Category, *models.Category]
}

// NewCategoryRepository creates the category repository. Remapping a
// category also rewrites the parent id of its children.
func NewCategoryRepository(deps Deps, ttl *int64) *CategoryRepository {
	r := &CategoryRepository{
		Repository: NewRepository[models.Category, *models.Category](deps, categoryTable, ttl),
	}
	r.OnRemap(r.columnFixer("parent_id"))
	return r
}

// ByKind returns the income or expense categories, by name.
func (r *CategoryRepository) ByKind(ctx context.Context, kind models.CategoryKind) ([]models.Category, error) {
	return r.table.Select(ctx, r.store, "kind = ?", "ORDER BY name, id", kind)
}

// Children returns the direct subcategories of parentID.
func (r *CategoryRepository) Children(ctx context.Context, parentID int64) ([]models.Category, error) {
	return r.table.Select(ctx, r.store, "parent_id = ?", "ORDER BY name, id", parentID)
}
