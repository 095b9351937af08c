package format

import (
	"strings"
	"testing"
)

func TestSanitizeSchemaEmptyYieldsPlaceholder(t *testing.T) {
	out := SanitizeSchema(nil)
	if out["type"] != "object" {
		t.Fatalf("expected object placeholder, got %v", out["type"])
	}
	props := out["properties"].(map[string]interface{})
	if _, ok := props["reason"]; !ok {
		t.Fatalf("expected placeholder reason property, got %v", props)
	}
}

func TestSanitizeSchemaConvertsConstAndDropsUnknownKeys(t *testing.T) {
	out := SanitizeSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"mode": map[string]interface{}{
				"type":          "string",
				"const":         "fast",
				"x-vendor-note": "dropped",
			},
		},
	})
	mode := out["properties"].(map[string]interface{})["mode"].(map[string]interface{})
	enum, ok := mode["enum"].([]interface{})
	if !ok || len(enum) != 1 || enum[0] != "fast" {
		t.Fatalf("expected const converted to single-value enum, got %v", mode["enum"])
	}
	if _, ok := mode["x-vendor-note"]; ok {
		t.Fatalf("expected unknown keyword to be dropped")
	}
}

func TestCleanSchemaUppercasesTypesAndDoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	}
	out := CleanSchema(in)
	if out["type"] != "OBJECT" {
		t.Fatalf("expected OBJECT, got %v", out["type"])
	}
	name := out["properties"].(map[string]interface{})["name"].(map[string]interface{})
	if name["type"] != "STRING" {
		t.Fatalf("expected STRING, got %v", name["type"])
	}
	if in["type"] != "object" {
		t.Fatalf("expected input to be untouched, got %v", in["type"])
	}
}

func TestCleanSchemaInlinesRefsAsHints(t *testing.T) {
	out := CleanSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user": map[string]interface{}{"$ref": "#/$defs/User"},
		},
	})
	user := out["properties"].(map[string]interface{})["user"].(map[string]interface{})
	if user["type"] != "OBJECT" {
		t.Fatalf("expected ref replaced by object schema, got %v", user["type"])
	}
	if desc, _ := user["description"].(string); !strings.Contains(desc, "See: User") {
		t.Fatalf("expected ref hint in description, got %q", desc)
	}
	if _, ok := user["$ref"]; ok {
		t.Fatalf("expected $ref to be gone")
	}
}

func TestCleanSchemaMergesAllOf(t *testing.T) {
	out := CleanSchema(map[string]interface{}{
		"type": "object",
		"allOf": []interface{}{
			map[string]interface{}{
				"properties": map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"a"},
			},
			map[string]interface{}{
				"properties": map[string]interface{}{"b": map[string]interface{}{"type": "integer"}},
				"required":   []interface{}{"b"},
			},
		},
	})
	if _, ok := out["allOf"]; ok {
		t.Fatalf("expected allOf to be merged away")
	}
	props := out["properties"].(map[string]interface{})
	if _, ok := props["a"]; !ok {
		t.Fatalf("expected property a after merge")
	}
	if _, ok := props["b"]; !ok {
		t.Fatalf("expected property b after merge")
	}
	required := out["required"].([]interface{})
	if len(required) != 2 {
		t.Fatalf("expected both required entries, got %v", required)
	}
}

func TestCleanSchemaCollapsesUnionsToBestBranch(t *testing.T) {
	out := CleanSchema(map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "string"},
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			},
		},
	})
	if out["type"] != "OBJECT" {
		t.Fatalf("expected the object branch to win, got %v", out["type"])
	}
	if desc, _ := out["description"].(string); !strings.Contains(desc, "Accepts: string | object") {
		t.Fatalf("expected union type hint, got %q", desc)
	}
	if _, ok := out["anyOf"]; ok {
		t.Fatalf("expected anyOf to be collapsed")
	}
}

func TestCleanSchemaNullableTypeLeavesRequired(t *testing.T) {
	out := CleanSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"note": map[string]interface{}{"type": []interface{}{"string", "null"}},
			"id":   map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"note", "id"},
	})
	note := out["properties"].(map[string]interface{})["note"].(map[string]interface{})
	if note["type"] != "STRING" {
		t.Fatalf("expected nullable string flattened to STRING, got %v", note["type"])
	}
	if desc, _ := note["description"].(string); !strings.Contains(desc, "nullable") {
		t.Fatalf("expected nullable hint, got %q", desc)
	}
	required := out["required"].([]interface{})
	if len(required) != 1 || required[0] != "id" {
		t.Fatalf("expected only id to stay required, got %v", required)
	}
}

func TestCleanSchemaHintsConstraintsAndStripsThem(t *testing.T) {
	out := CleanSchema(map[string]interface{}{
		"type":      "string",
		"minLength": 3,
		"enum":      []interface{}{"red", "green"},
	})
	desc, _ := out["description"].(string)
	if !strings.Contains(desc, "minLength: 3") {
		t.Fatalf("expected constraint hint, got %q", desc)
	}
	if !strings.Contains(desc, "Allowed: red, green") {
		t.Fatalf("expected enum hint, got %q", desc)
	}
	if _, ok := out["minLength"]; ok {
		t.Fatalf("expected minLength to be stripped")
	}
}
