package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "  SELECT * FROM dm_document \n", "SELECT * FROM dm_document"},
		{"sql fence", "```sql\nSELECT * FROM dm_document\n```", "SELECT * FROM dm_document"},
		{"dql fence", "```dql\nSELECT COUNT(*) FROM dm_folder\n```", "SELECT COUNT(*) FROM dm_folder"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"one-line fence", "```SELECT 1```", "SELECT 1"},
		{"fence without tag line", "```SELECT r_object_id FROM dm_document\n```", "SELECT r_object_id FROM dm_document"},
		{"backticks", "`SELECT 1`", "SELECT 1"},
		{"multi-line query", "```sql\nSELECT object_name\nFROM dm_document\n```", "SELECT object_name\nFROM dm_document"},
		{"inner backticks kept", "SELECT `x` FROM y", "SELECT `x` FROM y"},
		{"empty fence", "```\n```", ""},
		{"keyword on first line kept", "```SELECT\n* FROM dm_document```", "SELECT\n* FROM dm_document"},
		{"one-line fence with tag", "```sql SELECT * FROM dm_document```", "SELECT * FROM dm_document"},
		{"upper-case tag line", "```SQL\nSELECT 1\n```", "SELECT 1"},
		{"one-line dql tag", "```dql SELECT COUNT(*) FROM dm_folder```", "SELECT COUNT(*) FROM dm_folder"},
		{"tag only", "```sql\n```", ""},
		{"whitespace", " \t\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}
