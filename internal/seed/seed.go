// Package seed loads demo clinics, leads and rules from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"lead-nurture/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Fixtures struct {
	Clinics []Clinic `yaml:"clinics"`
}

type Clinic struct {
	Name  string `yaml:"name"`
	Users []User `yaml:"users"`
	Leads []Lead `yaml:"leads"`
	Rules []Rule `yaml:"rules"`
}

type User struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type Lead struct {
	Name   string `yaml:"name"`
	Phone  string `yaml:"phone"`
	Email  string `yaml:"email"`
	Status string `yaml:"status"`
	// LastContactedDaysAgo is relative to the seeding instant; omit for a
	// lead never contacted.
	LastContactedDaysAgo *int `yaml:"last_contacted_days_ago"`
	// Replied adds an inbound message so the lead shows up in follow-ups.
	Replied bool `yaml:"replied"`
}

type Rule struct {
	Name                  string   `yaml:"name"`
	TriggerDays           []int    `yaml:"trigger_days"`
	Message               string   `yaml:"message"`
	PersonalizationFields []string `yaml:"personalization_fields"`
	TargetStatus          string   `yaml:"target_status"`
	Active                *bool    `yaml:"active"`
	NotifyOnReply         bool     `yaml:"notify_on_reply"`
}

// Load decodes and validates fixtures.
func Load(r io.Reader) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	for _, c := range fx.Clinics {
		if c.Name == "" {
			return nil, errors.New("clinic without name")
		}
		for _, l := range c.Leads {
			if l.Status != "" && !models.IsValidLeadStatus(l.Status) {
				return nil, fmt.Errorf("clinic %q: lead %q has unknown status %q", c.Name, l.Name, l.Status)
			}
		}
		for _, r := range c.Rules {
			if !models.IsValidLeadStatus(r.TargetStatus) {
				return nil, fmt.Errorf("clinic %q: rule %q has unknown target status %q", c.Name, r.Name, r.TargetStatus)
			}
			if len(r.TriggerDays) == 0 {
				return nil, fmt.Errorf("clinic %q: rule %q has no trigger days", c.Name, r.Name)
			}
			for _, d := range r.TriggerDays {
				if d <= 0 {
					return nil, fmt.Errorf("clinic %q: rule %q has non-positive trigger day %d", c.Name, r.Name, d)
				}
			}
		}
	}
	return &fx, nil
}

// Apply inserts the fixtures in one transaction.
func Apply(ctx context.Context, db *gorm.DB, fx *Fixtures, now time.Time) error {
	now = now.UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range fx.Clinics {
			clinic := models.Clinic{Name: c.Name}
			if err := tx.Create(&clinic).Error; err != nil {
				return fmt.Errorf("create clinic %q: %w", c.Name, err)
			}

			for _, u := range c.Users {
				role := u.Role
				if role == "" {
					role = models.RoleStaff
				}
				user := models.User{ClinicID: clinic.ID, Name: u.Name, Email: u.Email, Role: role}
				if err := tx.Create(&user).Error; err != nil {
					return fmt.Errorf("create user %q: %w", u.Email, err)
				}
			}

			for _, l := range c.Leads {
				status := l.Status
				if status == "" {
					status = models.LeadStatusNew
				}
				lead := models.Lead{ClinicID: clinic.ID, Name: l.Name, Phone: l.Phone, Email: l.Email, Status: status}
				if l.LastContactedDaysAgo != nil {
					at := now.Add(-time.Duration(*l.LastContactedDaysAgo) * 24 * time.Hour)
					lead.LastContactedAt = &at
				}
				if err := tx.Create(&lead).Error; err != nil {
					return fmt.Errorf("create lead %q: %w", l.Name, err)
				}
				if l.Replied {
					msg := models.Message{LeadID: lead.ID, ClinicID: clinic.ID, Direction: models.DirectionInbound, Content: "Thanks, I'll think about it"}
					if lead.LastContactedAt != nil {
						msg.CreatedAt = *lead.LastContactedAt
					}
					if err := tx.Create(&msg).Error; err != nil {
						return fmt.Errorf("create message for lead %q: %w", l.Name, err)
					}
				}
			}

			for _, r := range c.Rules {
				rule := models.AutomationRule{
					ClinicID:              clinic.ID,
					Name:                  r.Name,
					TriggerDays:           r.TriggerDays,
					Message:               r.Message,
					PersonalizationFields: r.PersonalizationFields,
					TargetStatus:          r.TargetStatus,
					IsActive:              r.Active == nil || *r.Active,
					NotifyOnReply:         r.NotifyOnReply,
				}
				if err := tx.Create(&rule).Error; err != nil {
					return fmt.Errorf("create rule %q: %w", r.Name, err)
				}
			}
		}
		return nil
	})
}
