package envstruct_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sunridge/fieldtrack/internal/envstruct"
)

func TestPopulate(t *testing.T) {
	type args struct {
		v         any
		lookupEnv func(string) (string, bool)
	}
	tests := []struct {
		name    string
		args    args
		want    any
		wantErr error
	}{
		{
			name: "nil",
			args: args{
				v:         nil,
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
		{
			name: "not pointer",
			args: args{
				v:         struct{}{},
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
		{
			name: "empty struct",
			args: args{
				v:         &struct{}{},
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want:    &struct{}{},
			wantErr: nil,
		},
		{
			name: "empty env",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar string `env:"ENV_VAR"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want:    nil,
			wantErr: envstruct.ErrEnvNotSet,
		},
		{
			name: "env is set",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar string `env:"ENV_VAR"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "env_var", true },
			},
			want:    &struct{ EnvVar string }{EnvVar: "env_var"},
			wantErr: nil,
		},
		{
			name: "picks correct env variable",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar      string `env:"ENV_VAR"`
					EnvVar2     string `env:"ENV_VAR2"`
					OtherValue  string
					OtherValue2 int
				}{},
				lookupEnv: func(s string) (string, bool) { return strings.ToLower(s), true },
			},
			want: &struct {
				EnvVar      string
				EnvVar2     string
				OtherValue  string
				OtherValue2 int
			}{EnvVar: "env_var", EnvVar2: "env_var2", OtherValue: "", OtherValue2: 0},
			wantErr: nil,
		},
		{
			name: "handles default value",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					EnvVar string `env:"ENV_VAR" envDefault:"default"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want:    &struct{ EnvVar string }{EnvVar: "default"},
			wantErr: nil,
		},
		{
			name: "typed fields",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					RadiusM  float64       `env:"RADIUS_M" envDefault:"15"`
					Dwell    time.Duration `env:"DWELL" envDefault:"8s"`
					GoalSize int           `env:"GOAL_SIZE" envDefault:"100"`
					Enabled  bool          `env:"ENABLED" envDefault:"true"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "", false },
			},
			want: &struct {
				RadiusM  float64
				Dwell    time.Duration
				GoalSize int
				Enabled  bool
			}{RadiusM: 15, Dwell: 8 * time.Second, GoalSize: 100, Enabled: true},
			wantErr: nil,
		},
		{
			name: "typed fields from environment",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					Debounce time.Duration `env:"DEBOUNCE" envDefault:"3s"`
				}{},
				lookupEnv: func(s string) (string, bool) {
					if s == "DEBOUNCE" {
						return "1500ms", true
					}
					return "", false
				},
			},
			want: &struct {
				Debounce time.Duration
			}{Debounce: 1500 * time.Millisecond},
			wantErr: nil,
		},
		{
			name: "invalid number",
			args: args{
				v: &struct { //nolint:exhaustruct // populated later
					RadiusM float64 `env:"RADIUS_M"`
				}{},
				lookupEnv: func(_ string) (string, bool) { return "not-a-number", true },
			},
			want:    nil,
			wantErr: envstruct.ErrInvalidValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := envstruct.Populate(tt.args.v, tt.args.lookupEnv)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.EqualValues(t, tt.want, tt.args.v)
		})
	}
}
