package mcpserver

// TemplateFormatContract describes the template and reference-data formats
// that LLM consumers should follow when writing templates.
const TemplateFormatContract = `# mderb Template Format Contract

A template is a Markdown file with embedded Ruby (ERB) named ` + "`" + `*.md.erb` + "`" + `.
When a template is watched, every change compiles it into the sibling
` + "`" + `*.md` + "`" + ` file (` + "`" + `docs/report.md.erb` + "`" + ` -> ` + "`" + `docs/report.md` + "`" + `).

## Reference data

Citations come from ` + "`" + `refs.mderb.json` + "`" + ` in the SAME directory as the template.
Templates in other directories (parents included) do not see it.

` + "```" + `json
[
  {"text": "The Art of Computer Programming", "ref": "https://example.org/taocp", "alias": "knuth"},
  {"text": "Structure and Interpretation", "ref": "https://example.org/sicp", "alias": "sicp"}
]
` + "```" + `

- The file is a JSON array of objects with string fields ` + "`" + `text` + "`" + `, ` + "`" + `ref` + "`" + ` and ` + "`" + `alias` + "`" + `.
- Entries are numbered from 1 in file order.
- Aliases should be unique; when repeated, the first entry wins.

## Markers

1. ` + "`" + `[&alias]` + "`" + ` cites an entry. It compiles to a link to the entry showing its
   number, e.g. ` + "`" + `<a href="#knuth">(1).</a>` + "`" + `. Unknown aliases stay as written.
2. ` + "`" + `$INCLUDEREFS$` + "`" + ` is replaced by the numbered reference list. Only the first
   occurrence is replaced.

Markers are expanded before ERB runs, so ERB code may not generate them.

## ERB

- ` + "`" + `<%= expr %>` + "`" + ` inserts the value of a Ruby expression.
- ` + "`" + `<% code %>` + "`" + ` runs code without output.
- A template that fails to render leaves the previous ` + "`" + `.md` + "`" + ` output untouched.

## Example

` + "```" + `markdown
# Reading list (<%= Time.now.year %>)

Start with [&knuth], then [&sicp].

## References

$INCLUDEREFS$
` + "```" + `
`
