package repository

import "testing"

func TestMigrationURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://u:p@localhost:5432/autonest?sslmode=disable", "pgx5://u:p@localhost:5432/autonest?sslmode=disable"},
		{"postgresql://u:p@db/autonest", "pgx5://u:p@db/autonest"},
		{"pgx5://already/converted", "pgx5://already/converted"},
	}
	for _, tc := range cases {
		if got := migrationURL(tc.in); got != tc.want {
			t.Errorf("migrationURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
