package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
	"e2e_trust/internal/service/trust"
	"e2e_trust/internal/utils/log"
)

type (
	App struct {
		app    *tview.Application
		pages  *tview.Pages
		status *tview.TextView
		output *tview.TextView
		input  *tview.InputField

		client    *Client
		directory *Directory
		trustSvc  *trust.Service
		identity  *DeviceIdentity

		conn *websocket.Conn
	}
)

func NewApp(client *Client, directory *Directory, identity *DeviceIdentity) *App {
	return &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		client:    client,
		directory: directory,
		identity:  identity,
	}
}

// SetTrustService injects the trust service after construction; the key
// store may need the app itself as its passphrase prompter.
func (a *App) SetTrustService(svc *trust.Service) {
	a.trustSvc = svc
}

func (a *App) Run(ctx context.Context, password string) {
	if err := a.client.PublishDeviceKeys(ctx, a.identity, password); err != nil {
		log.Fatal("publish device keys failed", zap.Error(err))
	}

	conn, err := a.client.DialUpdates(a.identity.UserID, a.identity.DeviceID)
	if err != nil {
		log.Fatal("init update stream failed", zap.Error(err))
	}
	a.conn = conn

	go a.listenOnUpdates(ctx)
	a.renderUI(ctx)
}

func (a *App) Stop() {
	if a.conn != nil {
		a.conn.Close()
	}
}

// blocking function
func (a *App) renderUI(ctx context.Context) {
	a.status = tview.NewTextView().SetDynamicColors(true)
	a.status.SetBorder(true).SetTitle(fmt.Sprintf(" Cross-Signing: %s/%s ", a.identity.UserID, a.identity.DeviceID))

	a.output = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.output.SetBorder(true).SetTitle(" Log ")

	a.input = tview.NewInputField().
		SetLabel("Command: ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" bootstrap <pw> | sign-device <id> | sign-user <id> | trust <user> [device] | refresh ")

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := a.input.GetText()
			if text == "" {
				return
			}
			a.input.SetText("")
			go a.execute(ctx, text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.status, 3, 0, false).
		AddItem(a.output, 0, 1, false).
		AddItem(a.input, 3, 0, true)

	a.pages.AddPage("main", layout, true, true)

	go a.refreshStatus(ctx)

	if err := a.app.SetRoot(a.pages, true).SetFocus(a.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (a *App) execute(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "bootstrap":
		if len(args) != 1 {
			a.printf("[red]usage:[-] bootstrap <password>")
			return
		}
		if err := a.trustSvc.Bootstrap(ctx, args[0]); err != nil {
			a.printf("[red]bootstrap failed:[-] %v", err)
			return
		}
		a.printf("[green]bootstrap ok[-]")

	case "sign-device":
		if len(args) != 1 {
			a.printf("[red]usage:[-] sign-device <deviceID>")
			return
		}
		if err := a.trustSvc.CrossSignDevice(ctx, args[0]); err != nil {
			a.printf("[red]sign-device failed:[-] %v", err)
			return
		}
		a.printf("[green]device %s cross-signed[-]", args[0])

	case "sign-user":
		if len(args) != 1 {
			a.printf("[red]usage:[-] sign-user <userID>")
			return
		}
		if err := a.trustSvc.SignUser(ctx, args[0]); err != nil {
			a.printf("[red]sign-user failed:[-] %v", err)
			return
		}
		a.printf("[green]user %s signed[-]", args[0])

	case "trust":
		switch len(args) {
		case 1:
			trusted, err := a.trustSvc.UserTrusted(ctx, args[0])
			if err != nil {
				a.printf("[red]trust check failed:[-] %v", err)
				return
			}
			a.printf("user %s trusted: %v", args[0], trusted)
		case 2:
			trusted, err := a.trustSvc.DeviceTrusted(ctx, args[0], args[1])
			if err != nil {
				a.printf("[red]trust check failed:[-] %v", err)
				return
			}
			a.printf("device %s/%s trusted: %v", args[0], args[1], trusted)
		default:
			a.printf("[red]usage:[-] trust <userID> [deviceID]")
			return
		}

	case "refresh":
		// fallthrough to the status refresh below

	default:
		a.printf("[red]unknown command:[-] %s", cmd)
		return
	}

	a.refreshStatus(ctx)
}

func (a *App) refreshStatus(ctx context.Context) {
	state, err := a.trustSvc.State(ctx)
	text := ""
	if err != nil {
		text = fmt.Sprintf("[red]state unavailable: %v[-]", err)
	} else {
		text = fmt.Sprintf("state: [yellow]%s[-]  read-trust: %v  cross-sign: %v",
			state, crosssigning.CanReadTrust(state), crosssigning.CanCrossSign(state))
	}

	a.app.QueueUpdateDraw(func() {
		a.status.SetText(text)
	})
}

func (a *App) listenOnUpdates(ctx context.Context) {
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			log.Debug("update web socket closed", zap.Error(err))
			a.conn.Close()
			return
		}

		var update model.KeyUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			log.Error("unmarshal update failed", zap.Error(err))
			continue
		}

		if err := a.directory.Invalidate(ctx, update.UserID); err != nil {
			log.Error("invalidate directory cache failed", zap.Error(err))
		}
		a.printf("key update: %s (%s)", update.UserID, update.Type)
		a.refreshStatus(ctx)
	}
}

func (a *App) printf(format string, args ...any) {
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.output, format+"\n", args...)
		a.output.ScrollToEnd()
	})
}

// Prompt shows a modal passphrase field; it blocks until the user answers.
// An empty answer counts as dismissal. Implements keystore.Prompter.
func (a *App) Prompt(reason string) (string, error) {
	answer := make(chan string, 1)

	a.app.QueueUpdateDraw(func() {
		field := tview.NewInputField().
			SetLabel(reason + ": ").
			SetFieldWidth(0).
			SetMaskCharacter('*')
		field.SetBorder(true).SetTitle(" Key Store ")

		field.SetDoneFunc(func(key tcell.Key) {
			text := ""
			if key == tcell.KeyEnter {
				text = field.GetText()
			}
			a.pages.RemovePage("prompt")
			a.app.SetFocus(a.input)
			answer <- text
		})

		modal := tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(field, 3, 0, true).
			AddItem(nil, 0, 1, false)

		a.pages.AddPage("prompt", modal, true, true)
		a.app.SetFocus(field)
	})

	text := <-answer
	if text == "" {
		return "", fmt.Errorf("passphrase prompt dismissed")
	}
	return text, nil
}
