package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testEnv() map[string]interface{} {
	return map[string]interface{}{
		"input": "hello",
		"context": map[string]interface{}{
			"user": "selim",
		},
		"results": map[string]interface{}{
			"fetch": map[string]interface{}{
				"status": 200,
			},
			"greet": "hi there",
		},
		"vars": map[string]interface{}{
			"region": "eu-west-1",
		},
	}
}

func TestResolveString(t *testing.T) {
	env := testEnv()

	t.Run("should substitute dot paths", func(t *testing.T) {
		got := ResolveString("user={{context.user}} in {{vars.region}}", env)
		assert.Equal(t, "user=selim in eu-west-1", got)
	})

	t.Run("should degrade a miss to the literal path", func(t *testing.T) {
		got := ResolveString("value: {{results.missing.output}}", env)
		assert.Equal(t, "value: results.missing.output", got)
	})

	t.Run("should render non-string values as JSON", func(t *testing.T) {
		got := ResolveString("status was {{results.fetch.status}}", env)
		assert.Equal(t, "status was 200", got)
	})

	t.Run("should leave plain strings alone", func(t *testing.T) {
		assert.Equal(t, "no templates here", ResolveString("no templates here", env))
	})

	t.Run("should trim placeholder whitespace", func(t *testing.T) {
		assert.Equal(t, "hello", ResolveString("{{ input }}", env))
	})
}

func TestResolveValue(t *testing.T) {
	env := testEnv()

	t.Run("should keep the resolved type for a whole-string placeholder", func(t *testing.T) {
		got := ResolveValue("{{results.fetch}}", env)
		m, ok := got.(map[string]interface{})
		assert.True(t, ok)
		assert.Equal(t, 200, m["status"])
	})

	t.Run("should keep the literal path for a whole-string miss", func(t *testing.T) {
		assert.Equal(t, "results.ghost", ResolveValue("{{results.ghost}}", env))
	})

	t.Run("should walk nested maps and slices", func(t *testing.T) {
		got := ResolveValue(map[string]interface{}{
			"greeting": "{{results.greet}}",
			"tags":     []interface{}{"{{vars.region}}", "static"},
			"count":    3,
		}, env)

		m := got.(map[string]interface{})
		assert.Equal(t, "hi there", m["greeting"])
		assert.Equal(t, []interface{}{"eu-west-1", "static"}, m["tags"])
		assert.Equal(t, 3, m["count"])
	})

	t.Run("should interpolate partial placeholders as strings", func(t *testing.T) {
		got := ResolveValue("region: {{vars.region}}!", env)
		assert.Equal(t, "region: eu-west-1!", got)
	})
}
