package actions

import (
	"context"
	"strconv"

	"github.com/driprun/driprun/pkg/schema"
)

// UpdateFieldAction mutates a contact field and persists the contact. Set
// applies to scalar fields; add/remove apply to the tag and list sets.
type UpdateFieldAction struct{}

func (a *UpdateFieldAction) Kind() schema.ActionKind { return schema.ActionUpdateField }

func (a *UpdateFieldAction) Execute(ctx context.Context, inv *Invocation, cfg *schema.ActionConfig) error {
	if cfg.Field == nil {
		return schema.NewError(schema.ErrCodeDefinition, "update_field action config missing")
	}
	f := cfg.Field
	contact := inv.Contact

	switch f.Op {
	case schema.FieldOpSet:
		switch f.Field {
		case "temperature":
			contact.Temperature = f.Value
		case "lifecycle_stage":
			contact.LifecycleStage = f.Value
		case "status":
			contact.Status = f.Value
		case "lead_score":
			score, err := strconv.ParseFloat(f.Value, 64)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeDefinition, "lead_score value %q is not numeric", f.Value).WithCause(err)
			}
			contact.LeadScore = score
		default:
			return schema.NewErrorf(schema.ErrCodeDefinition, "field %q cannot be set", f.Field)
		}

	case schema.FieldOpAdd:
		switch f.Field {
		case "tag":
			contact.Tags = addToSet(contact.Tags, f.Value)
		case "list":
			contact.Lists = addToSet(contact.Lists, f.Value)
		default:
			return schema.NewErrorf(schema.ErrCodeDefinition, "field %q does not support add", f.Field)
		}

	case schema.FieldOpRemove:
		switch f.Field {
		case "tag":
			contact.Tags = removeFromSet(contact.Tags, f.Value)
		case "list":
			contact.Lists = removeFromSet(contact.Lists, f.Value)
		default:
			return schema.NewErrorf(schema.ErrCodeDefinition, "field %q does not support remove", f.Field)
		}

	default:
		return schema.NewErrorf(schema.ErrCodeDefinition, "unknown field op %q", f.Op)
	}

	if err := inv.Contacts.UpsertContact(ctx, contact); err != nil {
		return err
	}
	return nil
}

func addToSet(set []string, value string) []string {
	for _, v := range set {
		if v == value {
			return set
		}
	}
	return append(set, value)
}

func removeFromSet(set []string, value string) []string {
	out := set[:0]
	for _, v := range set {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
