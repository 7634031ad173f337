package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Category struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name        string              `bson:"name" json:"name"`
	Slug        string              `bson:"slug" json:"slug"`
	Description string              `bson:"description,omitempty" json:"description,omitempty"`
	ImageURL    string              `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	ParentID    *primitive.ObjectID `bson:"parentId,omitempty" json:"parentId,omitempty"`
	SortOrder   int                 `bson:"sortOrder" json:"sortOrder"`
	IsActive    bool                `bson:"isActive" json:"isActive"`
	CreatedAt   time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// CategoryNode is a category with its resolved children, used for tree responses.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

// BuildCategoryTree links categories to their parents. Categories whose parent
// is missing from the input are treated as roots.
func BuildCategoryTree(categories []Category) []*CategoryNode {
	nodes := make(map[primitive.ObjectID]*CategoryNode, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &CategoryNode{Category: c, Children: []*CategoryNode{}}
	}

	roots := make([]*CategoryNode, 0)
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// DescendantIDs returns the id of root and all its descendants.
func DescendantIDs(categories []Category, root primitive.ObjectID) []primitive.ObjectID {
	children := make(map[primitive.ObjectID][]primitive.ObjectID)
	for _, c := range categories {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}

	out := []primitive.ObjectID{root}
	seen := map[primitive.ObjectID]struct{}{root: {}}
	for i := 0; i < len(out); i++ {
		for _, child := range children[out[i]] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
		}
	}
	return out
}
