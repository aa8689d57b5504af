package importer

import (
	"fmt"
	"slices"
)

// CommitRequest configures one commit. UniqueField names an input column;
// leaving it empty means create-only with no cross-row references.
type CommitRequest struct {
	UniqueField         string            `json:"unique_field"`
	UpdateMode          bool              `json:"update_mode"`
	DefaultTrackerID    int64             `json:"default_tracker_id"`
	UpdateOtherProjects bool              `json:"update_other_projects"`
	UpdateClosed        bool              `json:"update_closed"`
	IgnoreMissing       bool              `json:"ignore_missing"`
	SendNotifications   bool              `json:"send_notifications"`
	AddCategories       bool              `json:"add_categories"`
	AddVersions         bool              `json:"add_versions"`
	UseAnonymous        bool              `json:"use_anonymous"`
	Mapping             map[string]string `json:"mapping"`
}

// validate checks the request against its mapping and the payload headers
// before any row runs.
func (r *CommitRequest) validate(m *FieldMapping, headers []string) error {
	if err := m.CheckColumns(headers); err != nil {
		return err
	}

	if r.UniqueField == "" {
		switch {
		case r.UpdateMode:
			return fmt.Errorf("%w: specify the unique field to update tickets", ErrUniqueFieldRequired)
		case m.Mapped(AttrParent):
			return fmt.Errorf("%w: specify the unique field to use the %s column", ErrUniqueFieldRequired, AttrParent)
		}
		if rc := m.relationColumns(); len(rc) > 0 {
			return fmt.Errorf("%w: specify the unique field to use the %s column", ErrUniqueFieldRequired, rc[0].typ)
		}
		return nil
	}

	if !slices.Contains(headers, r.UniqueField) {
		return fmt.Errorf("%w: unique field %q: column not found in file", ErrInvalidMapping, r.UniqueField)
	}
	if t, _ := m.TargetFor(r.UniqueField); t == "" {
		return fmt.Errorf("%w: unique field %q is not mapped to an attribute", ErrUniqueFieldRequired, r.UniqueField)
	}
	return nil
}
