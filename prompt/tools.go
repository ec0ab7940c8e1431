package prompt

import (
	"strings"

	"github.com/sweetpotato0/toolchat/tool"
)

// SystemTemplateName names the template that introduces the available tools.
const SystemTemplateName = "system"

const noDescription = "No description"

const systemPromptText = `You are a helpful assistant with access to these tools:

{{.Tools}}
Choose the appropriate tool based on the user's question. If no tool is needed, reply directly.

IMPORTANT: When you need to use a tool, you must ONLY respond with the exact JSON object format below, nothing else:
{
    "tool": "tool-name",
    "arguments": {
        "argument-name": "value"
    }
}

After receiving a tool's response:
1. Transform the raw data into a natural, conversational response
2. Keep responses concise but informative
3. Focus on the most relevant information
4. Use appropriate context from the user's question
5. Avoid simply repeating the raw data

Please use only the tools that are explicitly defined above.`

// SystemData is the input of the system template.
type SystemData struct {
	// Tools is the rendered tool listing.
	Tools string
	// Descriptors are the tools the listing was built from.
	Descriptors []*tool.Descriptor
}

// FormatTool renders one tool entry of the system prompt.
func FormatTool(d *tool.Descriptor) string {
	b := NewBuilder().
		AddLine("").
		AddFormat("Tool: %s\n", d.Name).
		AddFormat("Description: %s\n", d.Description).
		AddLine("Arguments:")

	args := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		desc := p.Description
		if desc == "" {
			desc = noDescription
		}
		line := "- " + p.Name + ": " + desc
		if p.Required {
			line += " (required)"
		}
		args = append(args, line)
	}
	return b.AddLine(strings.Join(args, "\n")).Build()
}

// FormatTools renders every tool entry, separated by blank lines.
func FormatTools(descs []*tool.Descriptor) string {
	blocks := make([]string, len(descs))
	for i, d := range descs {
		blocks[i] = FormatTool(d)
	}
	return strings.Join(blocks, "\n")
}

// System renders the system prompt for descs with m's system template.
func (m *Manager) System(descs []*tool.Descriptor) (string, error) {
	return m.Render(SystemTemplateName, SystemData{Tools: FormatTools(descs), Descriptors: descs})
}
