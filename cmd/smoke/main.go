// Command smoke drives a running API through the federation flow:
// create a record in one structure, grant access, federate it into a
// second structure and verify lineage, code freshness and idempotency.
// Requires the server to run with SIDRA_DEV_TOKENS=1.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type record struct {
	ID                string `json:"id"`
	Code              string `json:"code"`
	StructureID       string `json:"structure_id"`
	OriginStructureID string `json:"origin_structure_id"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *client) token(actorID, role, structureID string) string {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.call(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"actor_id":     actorID,
		"role":         role,
		"structure_id": structureID,
	}, &out)
	if err != nil {
		log.Fatalf("mint token for %s: %v", actorID, err)
	}
	return out.AccessToken
}

func main() {
	base := os.Getenv("SIDRA_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	userA := c.token("smoke-user-a", "UTILISATEUR", "st-tunis")
	adminA := c.token("smoke-admin-a", "ADMIN_STRUCTURE", "st-tunis")
	userB := c.token("smoke-user-b", "UTILISATEUR", "st-sfax")

	var original record
	err := c.call(http.MethodPost, "/v1/patients", userA, map[string]any{
		"first_name": "smoke",
		"last_name":  fmt.Sprintf("run-%d", time.Now().UnixNano()),
		"birth_date": "1990-03-14",
	}, &original)
	if err != nil {
		log.Fatalf("create record: %v", err)
	}
	log.Printf("created %s with code %s", original.ID, original.Code)

	// Before the grant, federation must fail.
	if err := c.call(http.MethodPost, "/v1/patients/"+original.ID+"/federate", userB, nil, nil); err == nil {
		log.Fatal("federation without grant unexpectedly succeeded")
	}

	err = c.call(http.MethodPost, "/v1/grants", adminA, map[string]any{
		"grantee_actor_id": "smoke-user-b",
		"record_id":        original.ID,
	}, nil)
	if err != nil {
		log.Fatalf("issue grant: %v", err)
	}

	var copied record
	if err := c.call(http.MethodPost, "/v1/patients/"+original.ID+"/federate", userB, nil, &copied); err != nil {
		log.Fatalf("federate: %v", err)
	}
	if copied.StructureID != "st-sfax" || copied.OriginStructureID != "st-tunis" {
		log.Fatalf("lineage broken: %+v", copied)
	}
	if copied.Code == original.Code {
		log.Fatalf("federated copy reused code %s", copied.Code)
	}

	var again record
	if err := c.call(http.MethodPost, "/v1/patients/"+original.ID+"/federate", userB, nil, &again); err != nil {
		log.Fatalf("repeat federate: %v", err)
	}
	if again.ID != copied.ID {
		log.Fatalf("federation not idempotent: %s vs %s", again.ID, copied.ID)
	}

	log.Printf("smoke ok: %s -> %s (origin %s)", original.Code, copied.Code, copied.OriginStructureID)
}
