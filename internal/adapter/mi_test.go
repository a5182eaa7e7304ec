package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_parseMIRecord(t *testing.T) {
	testCases := []struct {
		name      string
		line      string
		wantOK    bool
		wantSigil byte
		wantClass string
		wantAttrs map[string]string
	}{
		{
			name:   "gdb prompt is not a record",
			line:   "(gdb)",
			wantOK: false,
		},
		{
			name:      "done result with no attrs",
			line:      "^done",
			wantOK:    true,
			wantSigil: '^',
			wantClass: "done",
			wantAttrs: map[string]string{},
		},
		{
			name:      "watchpoint insert result",
			line:      `^done,wpt={number="2",exp="*(char(*)[1])0x601040"}`,
			wantOK:    true,
			wantSigil: '^',
			wantClass: "done",
		},
		{
			name:      "exec-async stop on breakpoint",
			line:      `*stopped,reason="breakpoint-hit",frame={addr="0x4011ab"}`,
			wantOK:    true,
			wantSigil: '*',
			wantClass: "stopped",
			wantAttrs: map[string]string{"reason": "breakpoint-hit", "frame": `{addr="0x4011ab"}`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := parseMIRecord(tc.line)
			assert.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				return
			}
			assert.Equal(t, tc.wantSigil, rec.Sigil)
			assert.Equal(t, tc.wantClass, rec.Class)
			if tc.wantAttrs != nil {
				assert.Equal(t, tc.wantAttrs, rec.Attrs)
			}
		})
	}
}

func Test_splitMITuple_respects_nesting_and_quotes(t *testing.T) {
	in := `a="1,2",b={c="3",d="4"},e="5"`
	got := splitMITuple(in)
	assert.Equal(t, []string{`a="1,2"`, `b={c="3",d="4"}`, `e="5"`}, got)
}

func Test_parseHexAddr(t *testing.T) {
	addr, err := parseHexAddr("0x601040")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x601040), addr)

	_, err = parseHexAddr("not-hex")
	assert.Error(t, err)
}

func Test_parseBacktraceConsole(t *testing.T) {
	console := `#0  parse_primary (s=0x60d0a0) at calc.c:42\n#1  parse_sum (s=0x60d0a0) at calc.c:17\n`
	frames := parseBacktraceConsole(console)

	if assert.Len(t, frames, 2) {
		assert.Equal(t, "parse_primary", frames[0].Symbol)
		assert.Equal(t, "calc.c", frames[0].File)
		assert.Equal(t, 42, frames[0].Line)
		assert.Equal(t, "parse_sum", frames[1].Symbol)
		assert.Equal(t, 17, frames[1].Line)
	}
}
