package realtime

import (
	"context"
	"encoding/json"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/patient"
)

// FederationNotifier forwards federation events onto the realtime
// channel: the acting user gets a private confirmation, admins get a
// broadcast on their notification channel.
type FederationNotifier struct {
	hub *Hub
}

// NewFederationNotifier wires the hub as a patient.Notifier.
func NewFederationNotifier(hub *Hub) *FederationNotifier {
	return &FederationNotifier{hub: hub}
}

var _ patient.Notifier = (*FederationNotifier)(nil)

func (n *FederationNotifier) PatientFederated(ctx context.Context, p patient.Patient, actor auth.Actor) {
	if n == nil || n.hub == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"type":         "PATIENT_FEDERATED",
		"record_id":    p.ID,
		"code":         p.Code,
		"structure_id": p.StructureID,
		"origin":       p.OriginStructureID,
	})
	if err != nil {
		return
	}
	n.hub.Broadcast(UserQueue(actor.ID), body)
	n.hub.Broadcast(DestAdminNotifications, body)
}
