package flags

import (
	"flag"
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestCheckRequired(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"manifest set", []string{"--manifest", "testengine.yaml"}, false},
		{"manifest missing", []string{"--go-binary", "go1.22"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := flag.NewFlagSet("test", flag.ContinueOnError)
			for _, f := range []cli.Flag{Manifest, GoBinary} {
				require.NoError(t, f.Apply(set))
			}
			require.NoError(t, set.Parse(tc.args))
			ctx := cli.NewContext(cli.NewApp(), set, nil)

			err := CheckRequired(ctx)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "manifest")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSelectionFlags(t *testing.T) {
	app := &cli.App{
		Flags: []cli.Flag{Tests, Categories, Where},
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, []string{"TestA", "TestB"}, ctx.StringSlice(Tests.Name))
			assert.Equal(t, []string{"Slow"}, ctx.StringSlice(Categories.Name))
			assert.Equal(t, `test =~ "Flaky"`, ctx.String(Where.Name))
			return nil
		},
	}

	err := app.Run([]string{"app", "--test", "TestA", "--test", "TestB", "--category", "Slow", "--where", `test =~ "Flaky"`})
	require.NoError(t, err)
}
