package reconcile

import (
	"fmt"
	"time"

	"github.com/dukerupert/subsync/internal/billing/model"
)

// Trigger identifies a row of the reconciliation mapping table.
type Trigger string

const (
	TriggerCheckoutCompleted    Trigger = "checkout.completed"
	TriggerSubscriptionCreated  Trigger = "subscription.created"
	TriggerSubscriptionUpdated  Trigger = "subscription.updated"
	TriggerSubscriptionDeleted  Trigger = "subscription.deleted"
	TriggerInvoicePaid          Trigger = "invoice.payment_succeeded"
	TriggerInvoicePaymentFailed Trigger = "invoice.payment_failed"
	TriggerRepairActive         Trigger = "repair.active"
	TriggerRepairNone           Trigger = "repair.none"
)

// Triggers lists the mapping table rows in order.
var Triggers = []Trigger{
	TriggerCheckoutCompleted,
	TriggerSubscriptionCreated,
	TriggerSubscriptionUpdated,
	TriggerSubscriptionDeleted,
	TriggerInvoicePaid,
	TriggerInvoicePaymentFailed,
	TriggerRepairActive,
	TriggerRepairNone,
}

// Plan maps a trigger and the provider's subscription snapshot to the patch
// applied to the subscriber record. It depends only on its arguments, so the
// same snapshot always produces the same patch.
func Plan(t Trigger, snap Snapshot, now time.Time) (model.SubscriptionPatch, error) {
	switch t {
	case TriggerCheckoutCompleted:
		return model.SubscriptionPatch{
			CustomerID:     snap.CustomerID,
			SubscriptionID: snap.ID,
			Status:         model.StatusActive,
			PeriodEnd:      snap.PeriodEnd,
		}, nil
	case TriggerSubscriptionCreated, TriggerSubscriptionUpdated:
		status := snap.Status
		if status == "" {
			status = model.StatusInactive
		}
		return model.SubscriptionPatch{
			BindCustomerID: snap.CustomerID,
			SubscriptionID: snap.ID,
			Status:         status,
			PeriodEnd:      snap.PeriodEnd,
		}, nil
	case TriggerSubscriptionDeleted:
		end := now.UTC()
		return model.SubscriptionPatch{
			BindCustomerID: snap.CustomerID,
			Status:         model.StatusCanceled,
			PeriodEnd:      &end,
		}, nil
	case TriggerInvoicePaid, TriggerRepairActive:
		return model.SubscriptionPatch{
			BindCustomerID: snap.CustomerID,
			SubscriptionID: snap.ID,
			Status:         model.StatusActive,
			PeriodEnd:      snap.PeriodEnd,
		}, nil
	case TriggerInvoicePaymentFailed:
		return model.SubscriptionPatch{
			BindCustomerID: snap.CustomerID,
			Status:         model.StatusPastDue,
			KeepPeriodEnd:  true,
		}, nil
	case TriggerRepairNone:
		return model.SubscriptionPatch{
			BindCustomerID: snap.CustomerID,
			Status:         model.StatusCanceled,
			KeepPeriodEnd:  true,
		}, nil
	default:
		return model.SubscriptionPatch{}, fmt.Errorf("unknown trigger %q", t)
	}
}

// MappingRow describes one trigger's effect in words.
type MappingRow struct {
	Trigger   Trigger  `json:"trigger"`
	Status    string   `json:"subscription_status"`
	Flags     string   `json:"flags"`
	PeriodEnd string   `json:"period_end"`
	Sets      []string `json:"sets,omitempty"`
}

// Table describes the mapping by running Plan on a probe snapshot.
func Table(now time.Time) []MappingRow {
	probeEnd := now.Add(30 * 24 * time.Hour).UTC()
	probe := Snapshot{
		ID:         "sub_probe",
		CustomerID: "cus_probe",
		Status:     model.Status("probe_status"),
		PeriodEnd:  &probeEnd,
	}

	rows := make([]MappingRow, 0, len(Triggers))
	for _, t := range Triggers {
		p, err := Plan(t, probe, now)
		if err != nil {
			continue
		}
		row := MappingRow{Trigger: t, Flags: "status == active && period_end > now"}

		switch p.Status {
		case probe.Status:
			row.Status = "provider status"
		default:
			row.Status = string(p.Status)
		}
		if p.Status != model.StatusActive && p.Status != probe.Status {
			row.Flags = "false"
		}

		switch {
		case p.KeepPeriodEnd:
			row.PeriodEnd = "unchanged"
		case p.PeriodEnd != nil && p.PeriodEnd.Equal(probeEnd):
			row.PeriodEnd = "from provider subscription"
		case p.PeriodEnd != nil && p.PeriodEnd.Equal(now.UTC()):
			row.PeriodEnd = "now"
		default:
			row.PeriodEnd = "cleared"
		}

		switch {
		case p.CustomerID != "":
			row.Sets = append(row.Sets, "provider_customer_id")
		case p.BindCustomerID != "":
			row.Sets = append(row.Sets, "provider_customer_id if unset")
		}
		if p.SubscriptionID != "" {
			row.Sets = append(row.Sets, "subscription_id")
		}
		rows = append(rows, row)
	}
	return rows
}
