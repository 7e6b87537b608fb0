// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Catalog entries.
const (
	ConfigLoadFailedId Id = iota + 1
	HostDirNotFoundId
	LoaderVersionInvalidId
	ExtensionsUnreadableId
	UpdatesFailedId
	ScratchUnavailableId
	MetricsWriteFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is guidance rendered for the terminal.
	MarkdownMsg string

	// HttpLink is an external reference shown under "See also".
	HttpLink string

	// Issue is one catalog entry.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// render is swapped in tests.
var render = glamour.Render

var (
	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# The configuration could not be loaded

melonup reads ` + "`config.cue`" + ` from the user configuration directory, the
current directory, or the path given with ` + "`--config`" + `.

## Things you can try
- Show where melonup looks for the file:
~~~
$ melonup config path
~~~
- Write a fresh file with every default spelled out:
~~~
$ melonup config init
~~~
- Check that ` + "`mode`" + ` is "auto" or "manual" and durations look like "30s".`,
		docLinks: []HttpLink{"https://cuelang.org/docs/tour/"},
	}

	hostDirNotFoundIssue = &Issue{
		id: HostDirNotFoundId,
		mdMsg: `
# No host installation found

The host directory must contain the ` + "`Mods`" + ` or ` + "`Plugins`" + ` folder of the
installation to update.

## Things you can try
- Point melonup at the installation:
~~~
$ melonup check --dir /path/to/game
~~~
- Or set ` + "`host.dir`" + ` in your configuration file.`,
	}

	loaderVersionInvalidIssue = &Issue{
		id: LoaderVersionInvalidId,
		mdMsg: `
# The loader version could not be read

Units declare the loader versions they are compatible with, so melonup
compares them with the installed loader. Versions look like "0.6.1".

## Things you can try
- Fix ` + "`host.loader_version`" + ` in your configuration.
- Or pass it once on the command line:
~~~
$ melonup check --loader-version 0.6.1
~~~`,
	}

	extensionsUnreadableIssue = &Issue{
		id: ExtensionsUnreadableId,
		mdMsg: `
# Script extensions could not be loaded

Scripts are read from the extensions directory of the host installation.
Built-in sources are still available.

## Things you can try
- Check the permissions of the extensions directory.
- List what was registered:
~~~
$ melonup extensions
~~~`,
	}

	updatesFailedIssue = &Issue{
		id: UpdatesFailedId,
		mdMsg: `
# Some updates failed

Every replaced file was moved to the ` + "`Backups`" + ` folder first, so nothing
was lost.

## Things you can try
- Re-run with ` + "`--verbose`" + ` to see each download and merge step.
- Update the failed units by hand from the page listed in the report.
- Add a unit to ` + "`ignore`" + ` to skip it on later runs.`,
	}

	scratchUnavailableIssue = &Issue{
		id: ScratchUnavailableId,
		mdMsg: `
# The scratch area could not be prepared

melonup downloads into a temporary folder inside the host installation and
removes it at the end of the run.

## Things you can try
- Make sure the host directory is writable.
- Move the scratch area with ` + "`paths.temp`" + `.`,
	}

	metricsWriteFailedIssue = &Issue{
		id: MetricsWriteFailedId,
		mdMsg: `
# Run metrics were not written

The update itself finished; only the metrics textfile is missing.

## Things you can try
- Check that the directory of ` + "`metrics.textfile`" + ` exists and is writable.`,
		docLinks: []HttpLink{"https://github.com/prometheus/node_exporter#textfile-collector"},
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.id:     configLoadFailedIssue,
		hostDirNotFoundIssue.id:      hostDirNotFoundIssue,
		loaderVersionInvalidIssue.id: loaderVersionInvalidIssue,
		extensionsUnreadableIssue.id: extensionsUnreadableIssue,
		updatesFailedIssue.id:        updatesFailedIssue,
		scratchUnavailableIssue.id:   scratchUnavailableIssue,
		metricsWriteFailedIssue.id:   metricsWriteFailedIssue,
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the raw guidance.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the reference links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the guidance with the named glamour style ("dark",
// "light", "notty", ...).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		var sb strings.Builder
		sb.WriteString(md)
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("- <" + string(link) + ">\n")
		}
		md = sb.String()
	}
	return render(md, stylePath)
}

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
