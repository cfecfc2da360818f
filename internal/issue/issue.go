// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	DescriptorInvalidId Id = iota + 1
	UnknownLanguageId
	PackageNotFoundId
	NetworkFailureId
	ContainerEngineNotFoundId
	PortInUseId
	AuthConfigMissingId
	WorkDirNotFoundId
	ToolchainVerifyFailedId
	WorkspaceExistsId
	ConfigLoadFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
	extLinks []HttpLink
}

func (i *Issue) Id() Id { return i.id }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render formats the issue with glamour using the given style ("dark",
// "light", "notty" or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if links := append(i.DocLinks(), i.extLinks...); len(links) > 0 {
		md += "\n\n## See also\n"
		for _, l := range links {
			md += "- <" + string(l) + ">\n"
		}
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	descriptorInvalidIssue = &Issue{
		id: DescriptorInvalidId,
		mdMsg: `
# Environment descriptor is invalid

The descriptor did not pass validation, so nothing was built.

## Things you can try
- Check the field named in the error above
- The package list must be non-empty and free of duplicates
- Regenerate a known-good descriptor:
~~~
$ codeden init myproject --lang python
~~~`,
	}

	unknownLanguageIssue = &Issue{
		id: UnknownLanguageId,
		mdMsg: `
# Unknown language preset

## Things you can try
- List the presets and their aliases:
~~~
$ codeden languages
~~~`,
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# A package could not be found

The package manager inside the base image has no candidate for a requested
package. This is not retried.

## Things you can try
- Check the spelling and the pinned version
- Confirm the package exists for the base image's distribution release`,
		extLinks: []HttpLink{"https://packages.debian.org/"},
	}

	networkFailureIssue = &Issue{
		id: NetworkFailureId,
		mdMsg: `
# Network failure during build

Fetching the base image or a package repository kept failing after every
retry attempt.

## Things you can try
- Check connectivity and any proxy settings of the container engine
- Raise ` + "`build.retry.attempts`" + ` in your config and run the build again`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine available

Builds and editor sessions need Podman or Docker on the PATH.

## Things you can try
- Install Podman or Docker
- Set ` + "`container_engine`" + ` in your config to the engine you have`,
		extLinks: []HttpLink{
			"https://podman.io/docs/installation",
			"https://docs.docker.com/engine/install/",
		},
	}

	portInUseIssue = &Issue{
		id: PortInUseId,
		mdMsg: `
# Port already in use

Another process is bound to the requested address.

## Things you can try
- Pick another port with ` + "`--port`" + `
- Find the owner:
~~~
$ ss -ltnp
~~~`,
	}

	authConfigMissingIssue = &Issue{
		id: AuthConfigMissingId,
		mdMsg: `
# Password authentication has no credential

The session was refused before binding any port.

## Things you can try
- Export the password variable named by ` + "`session.password_env`" + `:
~~~
$ export PASSWORD='choose-something'
~~~
- Or launch with ` + "`--auth none`" + ` on a trusted network`,
	}

	workDirNotFoundIssue = &Issue{
		id: WorkDirNotFoundId,
		mdMsg: `
# Working directory not found

The directory to serve does not exist or is not a directory.

## Things you can try
- Create it, or scaffold a workspace:
~~~
$ codeden init myproject --lang python
~~~`,
	}

	toolchainVerifyFailedIssue = &Issue{
		id: ToolchainVerifyFailedId,
		mdMsg: `
# Toolchain verification failed

A toolchain declared by the descriptor did not answer its version query
inside the built image, or reported a version outside the accepted range.

## Things you can try
- Rebuild without the cached image:
~~~
$ codeden build --force
~~~`,
	}

	workspaceExistsIssue = &Issue{
		id: WorkspaceExistsId,
		mdMsg: `
# Workspace already exists

## Things you can try
- Choose another name
- Pass ` + "`--force`" + ` to overwrite generated files`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

## Things you can try
- Show where codeden looks for its config:
~~~
$ codeden config path
~~~
- Write a fresh default config:
~~~
$ codeden config init
~~~`,
	}

	issues = map[Id]*Issue{
		descriptorInvalidIssue.Id():       descriptorInvalidIssue,
		unknownLanguageIssue.Id():         unknownLanguageIssue,
		packageNotFoundIssue.Id():         packageNotFoundIssue,
		networkFailureIssue.Id():          networkFailureIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		portInUseIssue.Id():               portInUseIssue,
		authConfigMissingIssue.Id():       authConfigMissingIssue,
		workDirNotFoundIssue.Id():         workDirNotFoundIssue,
		toolchainVerifyFailedIssue.Id():   toolchainVerifyFailedIssue,
		workspaceExistsIssue.Id():         workspaceExistsIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
