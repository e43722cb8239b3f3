package agentsy

import (
	"context"
	"encoding/json"
	"io"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// cutPoints sorts cuts and drops duplicates and positions outside (0, n).
func cutPoints(cuts []int, n int) []int {
	cuts = slices.DeleteFunc(slices.Clone(cuts), func(c int) bool { return c <= 0 || c >= n })
	slices.Sort(cuts)
	return slices.Compact(cuts)
}

func splitString(s string, cuts []int) []string {
	var out []string
	prev := 0
	for _, c := range cutPoints(cuts, len(s)) {
		out = append(out, s[prev:c])
		prev = c
	}
	return append(out, s[prev:])
}

func splitRunes(s string, cuts []int) []string {
	r := []rune(s)
	var out []string
	prev := 0
	for _, c := range cutPoints(cuts, len(r)) {
		out = append(out, string(r[prev:c]))
		prev = c
	}
	return append(out, string(r[prev:]))
}

func deltaFrame(d Delta) string {
	data, err := json.Marshal(map[string]any{"choices": []any{map[string]any{"index": 0, "delta": d}}})
	if err != nil {
		panic(err)
	}
	return "data: " + string(data) + "\n\n"
}

type streamOutcome struct {
	msg    Message
	deltas []Delta
	err    error
}

func collect(r io.Reader) streamOutcome {
	var out streamOutcome
	out.msg, out.err = quietAgent().readStream(context.Background(), r, func(d Delta) error {
		out.deltas = append(out.deltas, d)
		return nil
	})
	return out
}

func TestStreamProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	stream := strings.Join([]string{
		deltaFrame(Delta{Role: RoleAssistant}),
		": OPENROUTER PROCESSING\n\n",
		deltaFrame(Delta{Reasoning: "Tokyo weather, "}),
		deltaFrame(Delta{Reasoning: "then the date."}),
		deltaFrame(Delta{Content: "Checking 東京"}),
		deltaFrame(Delta{ToolCalls: []ToolCallDelta{{Index: 1, ID: "call_b", Type: "function", Function: FunctionCall{Name: "current_time"}}}}),
		deltaFrame(Delta{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_a", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"ci`}}}}),
		deltaFrame(Delta{ToolCalls: []ToolCallDelta{{Index: 1, Function: FunctionCall{Arguments: `{}`}}}}),
		deltaFrame(Delta{ToolCalls: []ToolCallDelta{{Index: 0, Function: FunctionCall{Arguments: `ty":"東京"}`}}}}),
		"data: [DONE]\n\n",
	}, "")
	baseline := collect(strings.NewReader(stream))
	if baseline.err != nil || len(baseline.msg.ToolCalls) != 2 {
		t.Fatalf("baseline stream: %+v", baseline)
	}

	properties.Property("read boundaries do not change deltas or the merged message", prop.ForAll(
		func(cuts []int) bool {
			got := collect(&piecesReader{pieces: splitString(stream, cuts)})
			return got.err == nil &&
				reflect.DeepEqual(got.msg, baseline.msg) &&
				reflect.DeepEqual(got.deltas, baseline.deltas)
		},
		gen.SliceOf(gen.IntRange(1, len(stream)-1)),
	))

	args := `{"city":"東京","days":3,"units":"metric","note":"a b  c"}`
	properties.Property("argument fragments merge to the whole argument string", prop.ForAll(
		func(cuts []int) bool {
			var b strings.Builder
			for i, frag := range splitRunes(args, cuts) {
				call := ToolCallDelta{Function: FunctionCall{Arguments: frag}}
				if i == 0 {
					call.ID, call.Type, call.Function.Name = "call_1", "function", "weather"
				}
				b.WriteString(deltaFrame(Delta{ToolCalls: []ToolCallDelta{call}}))
			}
			b.WriteString("data: [DONE]\n\n")
			got := collect(strings.NewReader(b.String()))
			return got.err == nil &&
				len(got.msg.ToolCalls) == 1 &&
				got.msg.ToolCalls[0].ID == "call_1" &&
				got.msg.ToolCalls[0].Function.Name == "weather" &&
				got.msg.ToolCalls[0].Function.Arguments == args
		},
		gen.SliceOf(gen.IntRange(1, len([]rune(args))-1)),
	))

	body := strings.TrimSuffix(strings.TrimPrefix(deltaFrame(Delta{Content: "Hello,世界"}), "data: "), "\n\n")
	properties.Property("a JSON body split across frames is reassembled", prop.ForAll(
		func(cuts []int) bool {
			var b strings.Builder
			for _, piece := range splitString(body, cuts) {
				b.WriteString("data: " + piece + "\n\n")
			}
			b.WriteString("data: [DONE]\n\n")
			got := collect(strings.NewReader(b.String()))
			return got.err == nil && got.msg.Content == "Hello,世界" && len(got.deltas) == 1
		},
		gen.SliceOf(gen.IntRange(1, len(body)-1)),
	))

	properties.TestingRun(t)
}
