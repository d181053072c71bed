package speaker

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/model"
)

func members(t *testing.T, raw string) []govinfo.Member {
	t.Helper()
	var ms []govinfo.Member
	require.NoError(t, json.Unmarshal([]byte(raw), &ms))
	return ms
}

func TestResolveFromMember(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want model.Speaker
	}{
		{
			name: "last comma first",
			raw:  `[{"name":"Doe, Jane","party":"D","state":"CA","bioguideId":"D000123"}]`,
			want: model.Speaker{ID: 123, Name: "Jane Doe", Party: "D", State: "CA", FirstName: "Jane", LastName: "Doe", IsMapped: true},
		},
		{
			name: "first last with nested shapes",
			raw:  `[{"name":[{"authority-fnf":"Paul D. Ryan"}],"party":["R"],"state":{"#text":"WI"},"bioguideId":"R000570"}]`,
			want: model.Speaker{ID: 570, Name: "Paul D. Ryan", Party: "R", State: "WI", FirstName: "Paul", LastName: "Ryan", IsMapped: true},
		},
		{
			name: "single token name",
			raw:  `[{"name":"Cher"}]`,
			want: model.Speaker{ID: -1, Name: "Cher", Party: "Unknown", State: "Unknown", FirstName: "Unknown", LastName: "Unknown", IsMapped: true},
		},
		{
			name: "missing name uses memberName",
			raw:  `[{"memberName":"Smith, John","bioguideId":"S000001"}]`,
			want: model.Speaker{ID: 1, Name: "John Smith", Party: "Unknown", State: "Unknown", FirstName: "John", LastName: "Smith", IsMapped: true},
		},
		{
			name: "no name at all",
			raw:  `[{"party":"I","bioguideId":""}]`,
			want: model.Speaker{ID: -1, Name: "Unknown Speaker", Party: "I", State: "Unknown", FirstName: "Unknown", LastName: "Unknown", IsMapped: true},
		},
		{
			name: "bioguide without digits",
			raw:  `[{"name":"Doe, Jane","bioguideId":"ABC"}]`,
			want: model.Speaker{ID: -1, Name: "Jane Doe", Party: "Unknown", State: "Unknown", FirstName: "Jane", LastName: "Doe", IsMapped: true},
		},
		{
			name: "first member wins",
			raw:  `[{"name":"Doe, Jane","party":"D"},{"name":"Roe, Richard","party":"R"}]`,
			want: model.Speaker{ID: -1, Name: "Jane Doe", Party: "D", State: "Unknown", FirstName: "Jane", LastName: "Doe", IsMapped: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Resolve(members(t, tt.raw), "ignored text")
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveFromText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		wantName string
		wantLast string
	}{
		{"Mr. SMITH of Texas. I yield back the balance of my time.", "Mr. Smith", "Smith"},
		{"Ms. DOE of California. Mr. Speaker, I rise today.", "Ms. Doe", "Doe"},
		{"Mrs. LOWEY: I yield myself such time as I may consume.", "Mrs. Lowey", "Lowey"},
		{"The SPEAKER pro tempore. The Chair recognizes.", "The Speaker Pro Tempore", "Tempore"},
		{"Mr.   VAN   HOLLEN. Thank you.", "Mr. Van Hollen", "Hollen"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			sp := Resolve(nil, tt.text)
			assert.Equal(t, tt.wantName, sp.Name)
			assert.Equal(t, tt.wantLast, sp.LastName)
			assert.Equal(t, "Unknown", sp.FirstName)
			assert.Equal(t, "Unknown", sp.Party)
			assert.Equal(t, -1, sp.ID)
			assert.False(t, sp.IsMapped)
		})
	}
}

func TestResolveSentinel(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"Dr. SMITH. Hello.",
		"I rise today without a title.",
		// Terminator beyond the first 50 characters.
		"Mr. SMITH of the great and wonderful state of Texas who speaks.",
	} {
		sp := Resolve([]govinfo.Member{}, text)
		assert.Equal(t, model.UnknownSpeakerRecord(), sp, text)
	}
}

func TestPrefixRuneSafe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", prefix("abc", 50))
	assert.Equal(t, "ñé", prefix("ñéx", 2))
	assert.Equal(t, "", prefix("abc", 0))
}
