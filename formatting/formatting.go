package formatting

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// TimeLayout is the caption timestamp layout.
const TimeLayout = "2006-01-02 03:04:05 PM"

// Notice carries the fields shown in group messages.
type Notice struct {
	Number  string
	Country string
	Flag    string
	At      time.Time
}

// Mask hides the middle of a number: the first 4 digits, four asterisks,
// then the last 3 digits. Numbers shorter than 8 keep everything after the
// fourth digit.
func Mask(number string) string {
	if len(number) >= 8 {
		return number[:4] + "****" + number[len(number)-3:]
	}
	if len(number) <= 4 {
		return number + "****"
	}
	return number[:4] + "****" + number[4:]
}

// Caption builds the group message sent with (or instead of) a recording.
func Caption(n Notice, loc *time.Location) string {
	return "📳 New Call Captured!\n\n" + body(n, loc)
}

// FailureText builds the group message for a call whose recording could not
// be delivered.
func FailureText(n Notice, loc *time.Location) string {
	return "😟 Please contact group admin for error call OTP\n\n" + body(n, loc) + "└ ❌ Voice download failed\n"
}

// AdminText is the transient admin notice for a call that just started. It
// carries the full number.
func AdminText(number, recordingURL string) string {
	return fmt.Sprintf("📞 %s\n🔗 %s", number, html.EscapeString(recordingURL))
}

// OTPText is the admin-only message for an extracted code.
func OTPText(n Notice, otp string, loc *time.Location) string {
	return fmt.Sprintf("🔑 OTP <code>%s</code>\n📞 %s\n%s %s\n⏰ %s",
		html.EscapeString(otp), n.Number, n.Flag, html.EscapeString(n.Country), stamp(n.At, loc))
}

func body(n Notice, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "└ ⏰ Time: %s\n", stamp(n.At, loc))
	fmt.Fprintf(&b, "└ %s %s\n", n.Flag, html.EscapeString(n.Country))
	fmt.Fprintf(&b, "└ 📞 Number: %s\n", Mask(n.Number))
	return b.String()
}

func stamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// RecordingPattern is the os.CreateTemp pattern for a call's download.
func RecordingPattern(number string, at time.Time) string {
	return fmt.Sprintf("call_%s_%s_*.mp3", number, at.Format("20060102_150405"))
}
