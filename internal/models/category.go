package models

// CategoryKind says whether a category groups income or expenses.
type CategoryKind string

const (
	CategoryIncome  CategoryKind = "income"
	CategoryExpense CategoryKind = "expense"
)

// Category groups transactions for budgeting and reports.
type Category struct {
	CacheableRecord
	SyncState

	Name     string       `db:"name" json:"name"`
	Kind     CategoryKind `db:"kind" json:"kind"`
	Color    string       `db:"color" json:"color"`
	ParentID int64        `db:"parent_id" json:"parent_id,omitempty"` // 0 = top level
}

// TableName returns the table name for Category.
func (Category) TableName() string {
	return "categories"
}

// EntityType implements Syncable.
func (*Category) EntityType() EntityType {
	return EntityCategory
}

// CategoryRequest is the create/update request view of a Category.
type CategoryRequest struct {
	Name     string       `json:"name"`
	Kind     CategoryKind `json:"kind"`
	Color    string       `json:"color"`
	ParentID *int64       `json:"parent_id,omitempty"`
}

// RequestBody implements Syncable.
func (c *Category) RequestBody() any {
	req := CategoryRequest{Name: c.Name, Kind: c.Kind, Color: c.Color}
	if c.ParentID != 0 {
		parentID := c.ParentID
		req.ParentID = &parentID
	}
	return req
}
