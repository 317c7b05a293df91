package verify

import (
	"math"
	"testing"
)

func TestParseCoverage(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{
			name:   "istanbul summary",
			output: "File      | % Stmts | % Branch\nAll files |   85.3 |    70.1\n src/a.ts |  100 | 100",
			want:   85.3,
			ok:     true,
		},
		{
			name:   "go packages averaged",
			output: "ok  a  0.1s  coverage: 80.0% of statements\nok  b  0.2s  coverage: 90.0% of statements",
			want:   85.0,
			ok:     true,
		},
		{
			name: "untested packages left out",
			output: "ok  \tgithub.com/acme/app/a\t0.1s\tcoverage: 80.0% of statements\n" +
				"\tgithub.com/acme/app/cmd\t\tcoverage: 0.0% of statements\n" +
				"?   \tgithub.com/acme/app/gen\t[no test files]\n" +
				"ok  \tgithub.com/acme/app/b\t0.2s\tcoverage: 90.0% of statements",
			want: 85.0,
			ok:   true,
		},
		{
			name:   "verbose run counts each package once",
			output: "=== RUN   TestA\n--- PASS: TestA\nPASS\ncoverage: 70.0% of statements\nok  \tgithub.com/acme/app/a\t0.1s\tcoverage: 70.0% of statements\nok  \tgithub.com/acme/app/b\t0.1s\tcoverage: 100.0% of statements",
			want:   85.0,
			ok:     true,
		},
		{
			name:   "no tested packages",
			output: "\tgithub.com/acme/app/cmd\t\tcoverage: 0.0% of statements [no test files]",
			want:   0,
			ok:     true,
		},
		{
			name:   "last percentage",
			output: "Statements: 50%\nTotal coverage: 77.5%",
			want:   77.5,
			ok:     true,
		},
		{
			name:   "nothing",
			output: "no report",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCoverage(tt.output)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("coverage = %v, want %v", got, tt.want)
			}
		})
	}
}
