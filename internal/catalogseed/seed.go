package catalogseed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/jwalitptl/labcase-api/internal/model"
)

// File is the on-disk catalog layout. Stages and users reference roles by
// name; ids are resolved while applying.
type File struct {
	Roles     []RoleSeed     `yaml:"roles"`
	CaseTypes []CaseTypeSeed `yaml:"case_types"`
	Users     []UserSeed     `yaml:"users"`
}

type RoleSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type CaseTypeSeed struct {
	Name   string      `yaml:"name"`
	Stages []StageSeed `yaml:"stages"`
}

type StageSeed struct {
	Name  string   `yaml:"name"`
	Color string   `yaml:"color"`
	Roles []string `yaml:"roles"`
}

type UserSeed struct {
	ID    string   `yaml:"id"`
	Roles []string `yaml:"roles"`
}

type RoleStore interface {
	UpsertRole(ctx context.Context, role *model.Role, permissions []string) error
	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
}

type CatalogStore interface {
	ListCaseTypes(ctx context.Context) ([]*model.CaseType, error)
	CreateCaseType(ctx context.Context, req *model.CreateCaseTypeRequest) (*model.CaseType, error)
}

// Result counts what Apply changed.
type Result struct {
	Roles       int
	CaseTypes   int
	Skipped     int
	Assignments int
}

func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a seed document. Unknown keys are rejected.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return &file, nil
		}
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) Validate() error {
	known := make(map[string]struct{}, len(f.Roles))
	for _, r := range f.Roles {
		if r.Name == "" {
			return fmt.Errorf("role without a name")
		}
		if _, dup := known[r.Name]; dup {
			return fmt.Errorf("role %q declared twice", r.Name)
		}
		known[r.Name] = struct{}{}
	}

	types := make(map[string]struct{}, len(f.CaseTypes))
	for _, ct := range f.CaseTypes {
		if ct.Name == "" {
			return fmt.Errorf("case type without a name")
		}
		if _, dup := types[ct.Name]; dup {
			return fmt.Errorf("case type %q declared twice", ct.Name)
		}
		types[ct.Name] = struct{}{}
		for _, st := range ct.Stages {
			if st.Name == "" {
				return fmt.Errorf("case type %q has a stage without a name", ct.Name)
			}
			for _, role := range st.Roles {
				if _, ok := known[role]; !ok {
					return fmt.Errorf("stage %q of %q references unknown role %q", st.Name, ct.Name, role)
				}
			}
		}
	}

	for _, u := range f.Users {
		if _, err := uuid.Parse(u.ID); err != nil {
			return fmt.Errorf("user id %q: %w", u.ID, err)
		}
		for _, role := range u.Roles {
			if _, ok := known[role]; !ok {
				return fmt.Errorf("user %s references unknown role %q", u.ID, role)
			}
		}
	}
	return nil
}

// Apply upserts every role, creates the case types that do not exist yet and
// assigns user roles. Existing case types are left as they are so the seed can
// be re-run against a live catalog.
func Apply(ctx context.Context, f *File, roles RoleStore, catalog CatalogStore) (*Result, error) {
	res := &Result{}
	ids := make(map[string]uuid.UUID, len(f.Roles))

	for _, rs := range f.Roles {
		role := &model.Role{Name: rs.Name, Description: rs.Description}
		if err := roles.UpsertRole(ctx, role, rs.Permissions); err != nil {
			return res, fmt.Errorf("role %q: %w", rs.Name, err)
		}
		ids[rs.Name] = role.ID
		res.Roles++
	}

	existing, err := catalog.ListCaseTypes(ctx)
	if err != nil {
		return res, err
	}
	present := make(map[string]struct{}, len(existing))
	for _, ct := range existing {
		present[ct.Name] = struct{}{}
	}

	for _, ts := range f.CaseTypes {
		if _, ok := present[ts.Name]; ok {
			log.Info().Str("case_type", ts.Name).Msg("case type already present, skipping")
			res.Skipped++
			continue
		}

		req := &model.CreateCaseTypeRequest{Name: ts.Name}
		for _, st := range ts.Stages {
			stage := model.StageTemplateRequest{Name: st.Name, Color: st.Color}
			for _, role := range st.Roles {
				stage.AllowedRoles = append(stage.AllowedRoles, ids[role])
			}
			req.Stages = append(req.Stages, stage)
		}
		ct, err := catalog.CreateCaseType(ctx, req)
		if err != nil {
			return res, fmt.Errorf("case type %q: %w", ts.Name, err)
		}
		log.Info().Str("case_type", ct.Name).Int("stages", len(ct.Stages)).Msg("case type created")
		res.CaseTypes++
	}

	for _, u := range f.Users {
		userID, err := uuid.Parse(u.ID)
		if err != nil {
			return res, fmt.Errorf("user id %q: %w", u.ID, err)
		}
		for _, role := range u.Roles {
			if err := roles.AssignRole(ctx, userID, ids[role]); err != nil {
				return res, fmt.Errorf("assign %q to %s: %w", role, u.ID, err)
			}
			res.Assignments++
		}
	}
	return res, nil
}
