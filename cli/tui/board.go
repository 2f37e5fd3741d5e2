package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/despacho/notify"
	"github.com/pithecene-io/despacho/types"
)

// OrderActions are the toggles the board can trigger on the selected order.
type OrderActions interface {
	TogglePaymentStatus(ctx context.Context, id string) error
	TogglePaymentMethod(ctx context.Context, id string) error
	ToggleDelivered(ctx context.Context, id string) error
}

// Feed hands live orders and notifications to a running board.
// Only the latest order list is kept; notifications beyond the buffer are
// dropped. Safe for concurrent use.
type Feed struct {
	mu      sync.Mutex
	orders  chan []types.Order
	notices chan notify.Notification
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		orders:  make(chan []types.Order, 1),
		notices: make(chan notify.Notification, 16),
	}
}

// Orders replaces the pending order list.
func (f *Feed) Orders(orders []types.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.orders:
	default:
	}
	f.orders <- orders
}

// Notify implements notify.Notifier.
func (f *Feed) Notify(n notify.Notification) {
	select {
	case f.notices <- n:
	default:
	}
}

// OrdersMsg carries a new order list to the board.
type OrdersMsg []types.Order

// NoticeMsg carries one notification to the board.
type NoticeMsg notify.Notification

type actionDoneMsg struct {
	op  string
	err error
}

type boardKeyMap struct {
	Quit          key.Binding
	PaymentStatus key.Binding
	PaymentMethod key.Binding
	Delivered     key.Binding
}

var boardKeys = boardKeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	PaymentStatus: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "paid/pending"),
	),
	PaymentMethod: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "cash/card"),
	),
	Delivered: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "delivered"),
	),
}

var boardColumns = []table.Column{
	{Title: "Time", Width: 6},
	{Title: "Client", Width: 18},
	{Title: "Address", Width: 24},
	{Title: "Total", Width: 9},
	{Title: "Method", Width: 6},
	{Title: "Payment", Width: 8},
	{Title: "Courier", Width: 14},
	{Title: "Status", Width: 10},
}

// BoardModel is a Bubble Tea model for the live orders board.
type BoardModel struct {
	ctx     context.Context
	actions OrderActions
	feed    *Feed
	table   table.Model
	orders  []types.Order
	notice  *notify.Notification
	width   int
	height  int

	quitting bool
}

// NewBoardModel creates a board fed by feed. ctx bounds the toggles.
func NewBoardModel(ctx context.Context, actions OrderActions, feed *Feed) BoardModel {
	t := table.New(
		table.WithColumns(boardColumns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(styles)

	return BoardModel{ctx: ctx, actions: actions, feed: feed, table: t}
}

// Init implements tea.Model.
func (m BoardModel) Init() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return tea.Batch(m.waitOrders(), m.waitNotice())
}

func (m BoardModel) waitOrders() tea.Cmd {
	return func() tea.Msg {
		select {
		case orders := <-m.feed.orders:
			return OrdersMsg(orders)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m BoardModel) waitNotice() tea.Cmd {
	return func() tea.Msg {
		select {
		case n := <-m.feed.notices:
			return NoticeMsg(n)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// Update implements tea.Model.
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-8, 5))
		return m, nil

	case OrdersMsg:
		m.orders = msg
		m.table.SetRows(orderRows(msg))
		if m.feed != nil {
			return m, m.waitOrders()
		}
		return m, nil

	case NoticeMsg:
		n := notify.Notification(msg)
		m.notice = &n
		if m.feed != nil {
			return m, m.waitNotice()
		}
		return m, nil

	case actionDoneMsg:
		// Failures are already reported through the notifier.
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, boardKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, boardKeys.PaymentStatus):
			return m, m.act(opPaymentStatus)
		case key.Matches(msg, boardKeys.PaymentMethod):
			return m, m.act(opPaymentMethod)
		case key.Matches(msg, boardKeys.Delivered):
			return m, m.act(opDelivered)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the order under the cursor.
func (m BoardModel) Selected() (types.Order, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.orders) {
		return types.Order{}, false
	}
	return m.orders[i], true
}

const (
	opPaymentStatus = "payment status"
	opPaymentMethod = "payment method"
	opDelivered     = "delivered"
)

func (m BoardModel) act(op string) tea.Cmd {
	order, ok := m.Selected()
	if !ok || m.actions == nil {
		return nil
	}
	ctx, actions := m.ctx, m.actions
	return func() tea.Msg {
		var err error
		switch op {
		case opPaymentStatus:
			err = actions.TogglePaymentStatus(ctx, order.ID)
		case opPaymentMethod:
			err = actions.TogglePaymentMethod(ctx, order.ID)
		case opDelivered:
			err = actions.ToggleDelivered(ctx, order.ID)
		}
		return actionDoneMsg{op: op, err: err}
	}
}

// View implements tea.Model.
func (m BoardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Live orders (%d)", len(m.orders))))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.notice != nil {
		b.WriteString(LevelStyle(string(m.notice.Level)).Render(m.notice.Message))
		b.WriteString("\n")
	}

	help := []string{}
	for _, k := range []key.Binding{boardKeys.PaymentStatus, boardKeys.PaymentMethod, boardKeys.Delivered, boardKeys.Quit} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString(HelpStyle.Render(strings.Join(help, " • ")))
	return b.String()
}

func orderRows(orders []types.Order) []table.Row {
	rows := make([]table.Row, len(orders))
	for i, o := range orders {
		rows[i] = table.Row{
			clock(o.Timestamp),
			o.Client,
			o.Address,
			fmt.Sprintf("%.2f", o.TotalDue),
			o.PaymentMethod,
			o.PaymentStatus,
			o.CourierName,
			o.Status,
		}
	}
	return rows
}

// clock renders an RFC 3339 timestamp as local HH:MM.
func clock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ""
	}
	return t.Local().Format("15:04")
}

// RunBoard runs the orders board until the user quits or ctx ends.
func RunBoard(ctx context.Context, actions OrderActions, feed *Feed) error {
	p := tea.NewProgram(NewBoardModel(ctx, actions, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
