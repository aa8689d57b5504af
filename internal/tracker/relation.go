package tracker

// RelationType names a link kind between two tickets. Reverse kinds
// (duplicated, blocked, follows, copied_from) are never stored: NewRelation
// swaps the endpoints and records the forward kind instead.
type RelationType string

const (
	RelationRelates    RelationType = "relates"
	RelationDuplicates RelationType = "duplicates"
	RelationDuplicated RelationType = "duplicated"
	RelationBlocks     RelationType = "blocks"
	RelationBlocked    RelationType = "blocked"
	RelationPrecedes   RelationType = "precedes"
	RelationFollows    RelationType = "follows"
	RelationCopiedTo   RelationType = "copied_to"
	RelationCopiedFrom RelationType = "copied_from"
)

var relationTypes = []RelationType{
	RelationRelates,
	RelationDuplicates,
	RelationDuplicated,
	RelationBlocks,
	RelationBlocked,
	RelationPrecedes,
	RelationFollows,
	RelationCopiedTo,
	RelationCopiedFrom,
}

var relationReverse = map[RelationType]RelationType{
	RelationRelates:    RelationRelates,
	RelationDuplicates: RelationDuplicated,
	RelationDuplicated: RelationDuplicates,
	RelationBlocks:     RelationBlocked,
	RelationBlocked:    RelationBlocks,
	RelationPrecedes:   RelationFollows,
	RelationFollows:    RelationPrecedes,
	RelationCopiedTo:   RelationCopiedFrom,
	RelationCopiedFrom: RelationCopiedTo,
}

var relationLabels = map[RelationType]string{
	RelationRelates:    "Related to",
	RelationDuplicates: "Is duplicate of",
	RelationDuplicated: "Has duplicate",
	RelationBlocks:     "Blocks",
	RelationBlocked:    "Blocked by",
	RelationPrecedes:   "Precedes",
	RelationFollows:    "Follows",
	RelationCopiedTo:   "Copied to",
	RelationCopiedFrom: "Copied from",
}

// RelationTypes returns every relation kind in a stable order.
func RelationTypes() []RelationType {
	out := make([]RelationType, len(relationTypes))
	copy(out, relationTypes)
	return out
}

// ParseRelationType reports whether s names a relation kind.
func ParseRelationType(s string) (RelationType, bool) {
	t := RelationType(s)
	_, ok := relationReverse[t]
	return t, ok
}

// Reverse returns the kind as seen from the other ticket.
func (t RelationType) Reverse() RelationType {
	return relationReverse[t]
}

// Label is the display name of the kind.
func (t RelationType) Label() string {
	if l, ok := relationLabels[t]; ok {
		return l
	}
	return string(t)
}

func (t RelationType) stored() bool {
	switch t {
	case RelationDuplicated, RelationBlocked, RelationFollows, RelationCopiedFrom:
		return false
	}
	return true
}

// Relation is a stored link from one ticket to another.
type Relation struct {
	ID     int64        `json:"id"`
	FromID int64        `json:"from_id"`
	ToID   int64        `json:"to_id"`
	Type   RelationType `json:"type"`
}

// NewRelation builds the stored form of "ticketID <typ> otherID".
func NewRelation(ticketID, otherID int64, typ RelationType) Relation {
	if !typ.stored() {
		return Relation{FromID: otherID, ToID: ticketID, Type: typ.Reverse()}
	}
	return Relation{FromID: ticketID, ToID: otherID, Type: typ}
}

// Other returns the ticket on the far side of the relation from ticketID.
func (r Relation) Other(ticketID int64) int64 {
	if r.FromID == ticketID {
		return r.ToID
	}
	return r.FromID
}

// TypeFor returns the relation kind as seen from ticketID.
func (r Relation) TypeFor(ticketID int64) RelationType {
	if r.FromID == ticketID {
		return r.Type
	}
	return r.Type.Reverse()
}

// Links reports whether r already expresses "ticketID <typ> otherID".
func (r Relation) Links(ticketID, otherID int64, typ RelationType) bool {
	if r.FromID != ticketID && r.ToID != ticketID {
		return false
	}
	return r.Other(ticketID) == otherID && r.TypeFor(ticketID) == typ
}
