package description

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHTMLDescription(t *testing.T) {
	raw := `Join: <a href="https://us02web.zoom.us/j/8123456789?pwd=abc">Zoom</a><br>` +
		`Meeting ID: 812 345 6789<br>Passcode: k9Xq2<br>Program: IELTS<br>` +
		`GV: Nguyen Van A<br/>Classname: IELTS 6.5 Evening`

	info := Parse(raw)

	assert.Equal(t, "https://us02web.zoom.us/j/8123456789?pwd=abc", info.ZoomLink)
	assert.Equal(t, "8123456789", info.MeetingID)
	assert.Equal(t, "k9Xq2", info.Passcode)
	assert.Equal(t, "IELTS", info.Program)
	assert.Equal(t, "Nguyen Van A", info.Teacher)
	assert.Equal(t, "IELTS 6.5 Evening", info.ClassName)
}

func TestParseTeacherFallback(t *testing.T) {
	info := Parse("Teacher: Jane Doe\nProgram: STEM")
	assert.Equal(t, "Jane Doe", info.Teacher)
	assert.Equal(t, "STEM", info.Program)
	assert.Empty(t, info.ZoomLink)
}

func TestParseEmpty(t *testing.T) {
	assert.Equal(t, Info{}, Parse(""))
	assert.Equal(t, Info{}, Parse("   "))
}

func TestCleanStripsTags(t *testing.T) {
	assert.Equal(t, "line one\nline two", Clean("<b>line one</b><br>line <i>two</i>"))
}
