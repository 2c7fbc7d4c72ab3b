package letter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already clean",
			in:   "Madame, Monsieur,\n\nBody.",
			want: "Madame, Monsieur,\n\nBody.",
		},
		{
			name: "preamble and subject",
			in:   "Voici votre lettre :\n\nObjet : Candidature\n\nMadame, Monsieur,\n\nBody.",
			want: "Madame, Monsieur,\n\nBody.",
		},
		{
			name: "markdown fence",
			in:   "```text\nDear hiring team,\n\nBody.\n```",
			want: "Dear hiring team,\n\nBody.",
		},
		{
			name: "invented sign-off",
			in:   "Madame, Monsieur,\n\nBody.\n\nCordialement,\nJean Dupont",
			want: "Madame, Monsieur,\n\nBody.",
		},
		{
			name: "english sign-off",
			in:   "Dear team,\n\nBody.\n\nBest regards,\n[Your Name]",
			want: "Dear team,\n\nBody.",
		},
		{
			name: "blank line runs and trailing spaces",
			in:   "Bonjour,   \r\n\r\n\r\n\r\nBody.  \n\n\n\nMore.",
			want: "Bonjour,\n\nBody.\n\nMore.",
		},
		{
			name: "no salutation keeps text",
			in:   "Subject: Application\nI am writing to apply.",
			want: "I am writing to apply.",
		},
		{
			name: "sign-off word inside a sentence is kept",
			in:   "Dear team,\n\nI send my regards to your team.",
			want: "Dear team,\n\nI send my regards to your team.",
		},
		{
			name: "only noise",
			in:   "```\n```",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clean(tc.in))
		})
	}
}
