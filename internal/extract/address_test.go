package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type setFilter map[string]bool

func (s setFilter) TestString(item string) bool { return s[item] }

func testFilters() AddressFilters {
	return AddressFilters{
		PostCodes:      setFilter{"1000": true, "4000": true},
		Municipalities: setFilter{"BRUXELLES": true, "LIEGE": true},
		Streets:        setFilter{"SAINT-GILLES": true, "LOUISE": true},
	}
}

func TestAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "four tags with postcode municipality and number",
			text: "Bruxelles 1000 12 Rue",
			want: []string{"BRUXELLES 1000 12 RUE"},
		},
		{
			name: "three tags emit nothing",
			text: "Bruxelles 1000 12",
		},
		{
			name: "four numbers in a row reset",
			text: "1 2 3 4 Bruxelles 1000",
		},
		{
			name: "diacritics folded and one unknown word tolerated",
			text: "Rue Saint-Gilles 12, 4000 Liège, Belgique",
			want: []string{"RUE SAINT-GILLES 12 4000 LIEGE"},
		},
		{
			name: "phone number resets",
			text: "Bruxelles 1000 0475123456 12 Rue",
		},
		{
			name: "two unknown words reset",
			text: "Bruxelles 1000 foo bar 12 Rue",
		},
		{
			name: "skip words do not break the run",
			text: "Avenue Louise 12 - 1000 Bruxelles Belgium",
			want: []string{"AVENUE LOUISE 12 1000 BRUXELLES"},
		},
		{
			name: "duplicates collapse",
			text: "Bruxelles 1000 12 Rue; Adresse Bruxelles 1000 12 Rue",
			want: []string{"BRUXELLES 1000 12 RUE"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Addresses(tt.text, "fr", testFilters()))
		})
	}
}

func TestAddressesSlidesLongRuns(t *testing.T) {
	t.Parallel()

	// Ten tagged words without a municipality slide the window instead of
	// resetting, so a municipality arriving later still completes an address.
	text := "Rue Louise Rue Louise Rue Louise Rue Louise 12 1000 Bruxelles"
	got := Addresses(text, "nl", testFilters())
	require.Equal(t, []string{"LOUISE RUE LOUISE RUE LOUISE 12 1000 BRUXELLES"}, got)
}

func TestAddressesDisabled(t *testing.T) {
	t.Parallel()

	require.Nil(t, Addresses("Bruxelles 1000 12 Rue", "cs", testFilters()))
	require.Nil(t, Addresses("Bruxelles 1000 12 Rue", "fr", AddressFilters{}))
	require.NotNil(t, Addresses("Bruxelles 1000 12 Rue", "", testFilters()))
}

func TestFold(t *testing.T) {
	t.Parallel()

	require.Equal(t, "LIEGE", Fold("Liège"))
	require.Equal(t, "ZURICH", Fold("Zürich"))
	require.Equal(t, "SAINT-GILLES", Fold("saint-gilles"))
}
