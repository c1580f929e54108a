package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/tile-lens/internal/app"
	"github.com/petems/tile-lens/internal/config"
	"github.com/petems/tile-lens/internal/logging"
	"github.com/petems/tile-lens/internal/upload"
)

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	mu        sync.Mutex
	ready     bool
	mode      app.Mode
	recording bool

	// Menu items
	actionItems map[app.Action]*systray.MenuItem
	mResult     *systray.MenuItem
	mRecord     *systray.MenuItem
	mMode       *systray.MenuItem
	mDevices    *systray.MenuItem
	mCopy       *systray.MenuItem
}

func New(application *app.App, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     logging.Component(log, "tray"),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

// Status update methods for the app to call

func (u *UI) SetMode(m app.Mode) {
	u.mu.Lock()
	u.mode = m
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) SetRecording(on bool) {
	u.mu.Lock()
	u.recording = on
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) ShowMessage(msg string) {
	u.log.Info().Str("message", msg).Msg("Notice")
	if u.isReady() {
		systray.SetTooltip(msg)
	}
}

// ShutterEffect briefly swaps the title for a camera flash.
func (u *UI) ShutterEffect() {
	if !u.isReady() {
		return
	}
	systray.SetTitle("📸")
	time.AfterFunc(300*time.Millisecond, u.refresh)
}

func (u *UI) isReady() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ready
}

func (u *UI) ShowHand(res *upload.HandAnalysis) {
	u.showResult(formatHand(res))
}

func (u *UI) ShowTranscript(res *upload.AudioResult) {
	u.showResult(formatTranscript(res))
}

func (u *UI) showResult(text string) {
	if text == "" {
		return
	}
	u.log.Info().Str("result", text).Msg("Result")
	if u.isReady() {
		u.mResult.SetTitle(text)
		u.mResult.Show()
	}
}

func (u *UI) onReady() {
	systray.SetTooltip("Tile capture assistant")

	// Build menu
	u.actionItems = map[app.Action]*systray.MenuItem{
		app.StartSession: systray.AddMenuItem("Start Session", "Begin a new game session"),
		app.EndSession:   systray.AddMenuItem("End Session", "Finish the current session"),
		app.OpenCamera:   systray.AddMenuItem("Photo", "Open the camera preview"),
		app.Shutter:      systray.AddMenuItem("Take Photo", "Capture the hand"),
		app.CancelCamera: systray.AddMenuItem("Cancel", "Close the camera"),
		app.SendPhoto:    systray.AddMenuItem("Send Photo", "Analyze the captured hand"),
		app.Retake:       systray.AddMenuItem("Retake", "Discard and capture again"),
	}
	u.mRecord = systray.AddMenuItem("Start Recording", "Hold the record hotkey or click to toggle")
	u.mResult = systray.AddMenuItem("", "Latest result")
	u.mResult.Disable()
	u.mResult.Hide()
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.cfg.Hotkeys.Mode), "Toggle between record modes")
	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()
	u.mCopy = systray.AddMenuItemCheckbox("Copy Results", "Copy suggested plays and transcripts to the clipboard", u.cfg.CopyResults)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About tile-lens")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()
	u.refresh()

	for act, item := range u.actionItems {
		go u.forward(act, item)
	}
	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) forward(act app.Action, item *systray.MenuItem) {
	for range item.ClickedCh {
		_ = u.app.Dispatch(act)
	}
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRecord.ClickedCh:
			u.toggleRecording()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mCopy.ClickedCh:
			u.toggleCopy()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// refresh redraws the title and shows only the actions the mode allows.
func (u *UI) refresh() {
	u.mu.Lock()
	ready, mode, recording := u.ready, u.mode, u.recording
	u.mu.Unlock()
	if !ready {
		return
	}

	systray.SetTitle(titleFor(mode, recording))

	visible := visibleActions(mode)
	for act, item := range u.actionItems {
		if visible[act] {
			item.Show()
		} else {
			item.Hide()
		}
	}
	if visible[app.RecordPress] {
		u.mRecord.Show()
	} else {
		u.mRecord.Hide()
	}
	if recording {
		u.mRecord.SetTitle("Stop Recording")
	} else {
		u.mRecord.SetTitle("Start Recording")
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

// toggleRecording is the click equivalent of the record hotkey. A click
// cannot be held, so push-to-talk stops on the second click.
func (u *UI) toggleRecording() {
	if u.app.IsRecording() && u.cfg.Hotkeys.Mode == config.ModePushToTalk {
		_ = u.app.Dispatch(app.RecordRelease)
		return
	}
	_ = u.app.Dispatch(app.RecordPress)
}

func (u *UI) toggleMode() {
	oldMode := u.cfg.Hotkeys.Mode
	newMode := config.ModeToggle
	if oldMode == config.ModeToggle {
		newMode = config.ModePushToTalk
	}
	if err := u.app.SetRecordMode(newMode); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
	}
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) toggleCopy() {
	u.cfg.CopyResults = !u.cfg.CopyResults
	if u.cfg.CopyResults {
		u.mCopy.Check()
		u.log.Info().Msg("Enabled copying results")
	} else {
		u.mCopy.Uncheck()
		u.log.Info().Msg("Disabled copying results")
	}
	if err := u.cfg.Save(); err != nil {
		u.log.Error().Err(err).Msg("Failed to save config")
	}
}

func (u *UI) openLogs() {
	cmd := openCommand(logging.LogPath())
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

// showAbout puts the version in the tooltip and the log.
func (u *UI) showAbout() {
	u.ShowMessage(aboutText(u.version, u.commit))
}

func aboutText(version, commit string) string {
	return fmt.Sprintf("tile-lens %s (%s) - tile capture assistant", version, commit)
}

func (u *UI) onExit() {
	u.log.Info().Msg("Tray exited")
}

func openCommand(path string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("explorer", path)
	default:
		return exec.Command("xdg-open", path)
	}
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

func visibleActions(m app.Mode) map[app.Action]bool {
	visible := make(map[app.Action]bool)
	for _, act := range app.Available(m) {
		visible[act] = true
	}
	return visible
}

// titleFor sets the tray title with a tile emoji and status indicator
func titleFor(m app.Mode, recording bool) string {
	return fmt.Sprintf("🀄 %s", emojiForStatus(m, recording))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(m app.Mode, recording bool) string {
	if recording {
		return "🔴" // Red - recording
	}
	switch m {
	case app.Active:
		return "🟢" // Green - session running
	case app.CameraPreview:
		return "📷"
	case app.PhotoReview:
		return "🖼️"
	default:
		return "⚪️" // White - no session
	}
}

func formatHand(res *upload.HandAnalysis) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	if len(res.UserHand) > 0 {
		fmt.Fprintf(&b, "Hand: %s", strings.Join(res.UserHand, " "))
	}
	if len(res.MeldedTiles) > 0 {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, "Melds: %s", strings.Join(res.MeldedTiles, " "))
	}
	if res.SuggestedPlay != "" {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, "Play: %s", res.SuggestedPlay)
	}
	return b.String()
}

func formatTranscript(res *upload.AudioResult) string {
	if res == nil || res.Transcript == "" {
		return ""
	}
	if len(res.Events) == 0 {
		return fmt.Sprintf("Heard: %s", res.Transcript)
	}
	return fmt.Sprintf("Heard: %s (%d events)", res.Transcript, len(res.Events))
}
