package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
)

var (
	titleStyle        = lipgloss.NewStyle().MarginLeft(2).Bold(true)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(4)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	methodStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1).MarginLeft(2)
)

type opItem struct {
	name   string
	method string
	path   string
}

func (i opItem) FilterValue() string { return i.name + " " + i.path }

func (i opItem) Title() string {
	return fmt.Sprintf("%s %s %s", i.name, methodStyle.Render(i.method), i.path)
}

func (i opItem) Description() string { return "" }

type pickerModel struct {
	list     list.Model
	choice   string
	quitting bool
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		// Let the list handle keys while the filter input is active.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.choice = ""
			return m, tea.Quit

		case "enter":
			if i, ok := m.list.SelectedItem().(opItem); ok {
				m.choice = i.name
			}
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}
	help := helpStyle.Render("↑/↓: navigate • /: filter • enter: select • q/ctrl+c: cancel")
	return fmt.Sprintf("%s\n\n%s", m.list.View(), help)
}

func operationItems(doc *apiconfig.Document) []list.Item {
	names := doc.OperationNames()
	items := make([]list.Item, 0, len(names))
	for _, name := range names {
		op, _ := doc.Operation(name)
		items = append(items, opItem{
			name:   name,
			method: strings.ToUpper(op.Method),
			path:   op.Path,
		})
	}
	return items
}

// pickOperation shows an interactive list of the document's operations.
func pickOperation(doc *apiconfig.Document, in io.Reader, out io.Writer) (string, error) {
	items := operationItems(doc)
	if len(items) == 0 {
		return "", fmt.Errorf("no operations defined")
	}

	const defaultWidth = 80
	const listHeight = 16

	l := list.New(items, itemDelegate{}, defaultWidth, listHeight)
	l.Title = "Select an operation"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	p := tea.NewProgram(pickerModel{list: l}, tea.WithInput(in), tea.WithOutput(out))
	finalModel, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("error running selector: %w", err)
	}

	result := finalModel.(pickerModel)
	if result.choice == "" {
		return "", fmt.Errorf("selection cancelled")
	}
	return result.choice, nil
}

type itemDelegate struct{}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(opItem)
	if !ok {
		return
	}

	str := fmt.Sprintf("%d. %s", index+1, i.Title())

	fn := itemStyle.Render
	if index == m.Index() {
		fn = func(s ...string) string {
			return selectedItemStyle.Render("> " + strings.Join(s, " "))
		}
	}

	fmt.Fprint(w, fn(str))
}

// promptForParameter asks for a missing runtime value on the terminal.
func promptForParameter(r *bufio.Reader, w io.Writer, operation, name string) (string, error) {
	fmt.Fprintf(w, "Enter value for '%s' (%s): ", name, operation)
	v, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || v == "") {
		return "", err
	}
	return strings.TrimSpace(v), nil
}
