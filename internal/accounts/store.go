package accounts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/STRATINT/feedwatch/internal/atomicfile"
	"github.com/STRATINT/feedwatch/internal/models"
)

// ErrInvalidStore wraps schema and decode failures of the credential store.
var ErrInvalidStore = errors.New("invalid account store")

const storeSchemaURL = "feedwatch://accounts.schema.json"

const storeSchema = `{
  "type": "object",
  "required": ["accounts"],
  "properties": {
    "accounts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "enabled": {"type": "boolean"},
          "credentials": {"type": "object", "additionalProperties": {"type": "string"}},
          "cookies": {"type": "object", "additionalProperties": {"type": "string"}},
          "proxy": {
            "oneOf": [
              {"type": "string"},
              {"type": "null"},
              {
                "type": "object",
                "properties": {
                  "enabled": {"type": "boolean"},
                  "host": {"type": "string"},
                  "port": {"type": ["integer", "string"]},
                  "username": {"type": "string"},
                  "password": {"type": "string"}
                }
              }
            ]
          },
          "rate_limit": {
            "type": "object",
            "properties": {
              "requests_per_minute": {"type": "integer", "minimum": 0},
              "cooldown_minutes": {"type": "integer", "minimum": 0}
            }
          },
          "health": {"type": "object"}
        }
      }
    }
  }
}`

var compiledStoreSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(storeSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(storeSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(storeSchemaURL)
})

// Store reads account records from, and writes health back to, the JSON
// credential file. Writes only touch each account's health object.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store bound to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the credential file. Missing rate limits default
// to 30 requests per minute and missing health to healthy.
func (s *Store) Load() ([]models.Account, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read account store %s: %w", s.path, err)
	}
	return ParseAccounts(data)
}

// ParseAccounts validates and decodes a credential document.
func ParseAccounts(data []byte) ([]models.Account, error) {
	sch, err := compiledStoreSchema()
	if err != nil {
		return nil, fmt.Errorf("compile account schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}

	var records []models.Account
	var decodeErr error
	gjson.GetBytes(data, "accounts").ForEach(func(_, value gjson.Result) bool {
		rec := models.Account{
			Enabled: true,
			RateLimit: models.RateLimit{
				RequestsPerMinute: models.DefaultRequestsPerMinute,
				CooldownMinutes:   models.DefaultCooldownMinutes,
			},
			Health: models.AccountHealth{IsHealthy: true},
		}
		if err := json.Unmarshal([]byte(value.Raw), &rec); err != nil {
			decodeErr = fmt.Errorf("%w: account %s: %v", ErrInvalidStore, value.Get("id").String(), err)
			return false
		}
		if len(rec.Credentials) == 0 {
			if cookies := value.Get("cookies"); cookies.IsObject() {
				rec.Credentials = make(map[string]string)
				cookies.ForEach(func(k, v gjson.Result) bool {
					rec.Credentials[k.String()] = v.String()
					return true
				})
			}
		}
		if rec.Name == "" {
			rec.Name = rec.ID
		}
		records = append(records, rec)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}

	return records, nil
}

// SaveHealth rewrites the health object of every account in records that
// also appears in the file. Every other byte of the document is preserved.
func (s *Store) SaveHealth(records []models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat account store: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read account store: %w", err)
	}

	health := make(map[string]models.AccountHealth, len(records))
	for _, rec := range records {
		health[rec.ID] = rec.Health
	}

	positions := make(map[int]string)
	index := 0
	gjson.GetBytes(data, "accounts").ForEach(func(_, value gjson.Result) bool {
		if id := value.Get("id").String(); id != "" {
			if _, ok := health[id]; ok {
				positions[index] = id
			}
		}
		index++
		return true
	})

	for i := 0; i < index; i++ {
		id, ok := positions[i]
		if !ok {
			continue
		}
		raw, err := json.MarshalIndent(health[id], "      ", "  ")
		if err != nil {
			return fmt.Errorf("encode health for %s: %w", id, err)
		}
		data, err = sjson.SetRawBytes(data, fmt.Sprintf("accounts.%d.health", i), raw)
		if err != nil {
			return fmt.Errorf("update health for %s: %w", id, err)
		}
	}

	if err := atomicfile.Write(s.path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write account store: %w", err)
	}
	return nil
}
