package soapnote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Subject is the clinical context a note is drafted from.
type Subject struct {
	PatientName        string                 `json:"patient_name"`
	BiologicalSex      string                 `json:"biological_sex"`
	Age                int                    `json:"age,omitempty"`
	TreatmentLabel     string                 `json:"treatment_label"`
	PlanMonths         int                    `json:"plan_months"`
	Allergies          string                 `json:"allergies"`
	Contraindications  string                 `json:"contraindications"`
	CurrentMedications string                 `json:"current_medications"`
	GLP1History        bool                   `json:"glp1_history"`
	Intake             map[string]interface{} `json:"intake"`
}

// Generator drafts note content from a subject.
type Generator interface {
	Generate(ctx context.Context, s Subject) (Content, error)
}

// TemplateGenerator drafts a note deterministically from the intake
// answers. It is used when no generation service is configured.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, s Subject) (Content, error) {
	var subj strings.Builder
	fmt.Fprintf(&subj, "%s requests %s", orUnknown(s.PatientName), orUnknown(s.TreatmentLabel))
	if s.PlanMonths > 0 {
		fmt.Fprintf(&subj, " on a %d-month plan", s.PlanMonths)
	}
	subj.WriteString(".")
	if s.GLP1History {
		subj.WriteString(" Reports prior GLP-1 therapy.")
	} else {
		subj.WriteString(" No prior GLP-1 therapy reported.")
	}
	if len(s.Intake) > 0 {
		keys := make([]string, 0, len(s.Intake))
		for k := range s.Intake {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		subj.WriteString(" Intake:")
		for _, k := range keys {
			fmt.Fprintf(&subj, " %s=%v;", k, s.Intake[k])
		}
	}

	var obj strings.Builder
	obj.WriteString("Asynchronous telehealth visit; no in-person exam.")
	if s.Age > 0 {
		fmt.Fprintf(&obj, " Age %d.", s.Age)
	}
	if s.BiologicalSex != "" {
		fmt.Fprintf(&obj, " Sex %s.", s.BiologicalSex)
	}
	fmt.Fprintf(&obj, " Allergies: %s. Current medications: %s.",
		orNone(s.Allergies), orNone(s.CurrentMedications))

	assessment := "Candidate for weight management therapy."
	if s.Contraindications != "" {
		assessment = fmt.Sprintf("Reported contraindications require review: %s.", s.Contraindications)
	}

	plan := fmt.Sprintf("Prescribe %s as requested. Counsel on titration and side effects. Follow up before refill.",
		orUnknown(s.TreatmentLabel))

	return Content{
		Subjective: subj.String(),
		Objective:  obj.String(),
		Assessment: assessment,
		Plan:       plan,
	}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none reported"
	}
	return s
}

// HTTPGenerator posts the subject to an external drafting service and
// expects the four SOAP sections back as JSON.
type HTTPGenerator struct {
	URL    string
	Client *http.Client
}

func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (g *HTTPGenerator) Generate(ctx context.Context, s Subject) (Content, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Content{}, fmt.Errorf("marshal subject: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return Content{}, fmt.Errorf("build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("call soap generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Content{}, fmt.Errorf("soap generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var c Content
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return Content{}, fmt.Errorf("decode soap generator response: %w", err)
	}
	if c.Empty() {
		return Content{}, fmt.Errorf("soap generator returned an empty note")
	}
	return c, nil
}
