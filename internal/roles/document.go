// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package roles

import (
	"slices"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/access/traitexpr"
	"github.com/holomush/worldgate/internal/world"
)

// Document is the YAML form of a world's access configuration:
//
//	world: conf-2026
//	vocabulary: 1.1.0
//	roles:
//	  host: ["world:*", "room:*"]
//	trait_grants:
//	  host: "staff, vip | sponsor"
//	rooms:
//	  main-stage:
//	    trait_grants:
//	      speaker: speaker
//
// Sections left out are not changed when the document is applied.
type Document struct {
	World       string                  `yaml:"world" json:"world" jsonschema:"minLength=1,description=ID of the world the document configures"`
	Vocabulary  string                  `yaml:"vocabulary,omitempty" json:"vocabulary,omitempty" jsonschema:"description=Permission vocabulary version the role map is written against. Defaults to the current version"`
	Roles       map[string][]string     `yaml:"roles,omitempty" json:"roles,omitempty" jsonschema:"description=Role name to permissions or permission patterns"`
	TraitGrants map[string]string       `yaml:"trait_grants,omitempty" json:"trait_grants,omitempty" jsonschema:"description=Role name to trait expression granting it world-wide"`
	Rooms       map[string]RoomDocument `yaml:"rooms,omitempty" json:"rooms,omitempty" jsonschema:"description=Per-room configuration keyed by room ID"`
}

// RoomDocument is the configuration of one room.
type RoomDocument struct {
	TraitGrants map[string]string `yaml:"trait_grants" json:"trait_grants" jsonschema:"description=Role name to trait expression granting it in the room"`
}

// Config is a compiled Document.
type Config struct {
	WorldID string
	// Roles is nil when the document leaves the role map alone.
	Roles *access.RoleMap
	// TraitGrants is nil when the document leaves world trait grants alone.
	TraitGrants access.TraitGrants
	Rooms       map[string]access.TraitGrants
}

// RoomIDs returns the configured room IDs, sorted.
func (c *Config) RoomIDs() []string {
	ids := make([]string, 0, len(c.Rooms))
	for id := range c.Rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ParseDocument validates YAML data against the document schema and compiles it.
func ParseDocument(data []byte) (*Config, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.In("roles").Code("INVALID_ROLES_DOCUMENT").Wrap(err)
	}
	return doc.Compile()
}

// Compile validates every entry of the document against the permission
// vocabulary and the trait expression grammar.
func (d Document) Compile() (*Config, error) {
	if err := world.ValidateID("world", d.World); err != nil {
		return nil, oops.In("roles").Code("INVALID_ROLES_DOCUMENT").Wrap(err)
	}
	cfg := &Config{WorldID: d.World, Rooms: make(map[string]access.TraitGrants, len(d.Rooms))}
	vocabulary, err := access.ParseVocabularyVersion(d.Vocabulary)
	if err != nil {
		return nil, oops.In("roles").With("world_id", d.World).Wrap(err)
	}
	if d.Roles != nil {
		roles, err := access.NewRoleMapAt(d.Roles, vocabulary)
		if err != nil {
			return nil, oops.In("roles").With("world_id", d.World).Wrap(err)
		}
		cfg.Roles = &roles
	}
	if d.TraitGrants != nil {
		grants, err := traitexpr.ParseGrants(d.TraitGrants)
		if err != nil {
			return nil, oops.In("roles").With("world_id", d.World).Wrap(err)
		}
		cfg.TraitGrants = grants
	}
	for id, room := range d.Rooms {
		if err := world.ValidateID("room", id); err != nil {
			return nil, oops.In("roles").Code("INVALID_ROLES_DOCUMENT").Wrap(err)
		}
		grants, err := traitexpr.ParseGrants(room.TraitGrants)
		if err != nil {
			return nil, oops.In("roles").With("room_id", id).Wrap(err)
		}
		cfg.Rooms[id] = grants
	}
	return cfg, nil
}

// Export renders the stored configuration of a world and its rooms.
func Export(w *world.World, rooms []*world.Room) Document {
	doc := Document{
		World:       w.ID,
		Vocabulary:  w.Roles.Version().String(),
		Roles:       w.Roles.Source(),
		TraitGrants: traitexpr.FormatGrants(w.TraitGrants),
	}
	if len(rooms) > 0 {
		doc.Rooms = make(map[string]RoomDocument, len(rooms))
		for _, r := range rooms {
			doc.Rooms[r.ID] = RoomDocument{TraitGrants: traitexpr.FormatGrants(r.TraitGrants)}
		}
	}
	return doc
}

// Marshal encodes the document as YAML.
func (d Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, oops.In("roles").Code("ROLES_DOCUMENT_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}
