/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package generator turns an issue and its selected files into complete
replacement file contents.

A Generator renders the request into a Prompt, makes exactly one call to a
Service and checks the answer. It does not retry: a failed or incomplete
exchange is returned as a fixerr.Generation error and nothing partial is
handed on. The checks reject empty change sets, blank files, unsafe paths
and any content that elides code with placeholders such as
"// ... existing code ...".

Backends implement Service. See the claudegen, geminigen and openaigen
subpackages.
*/
package generator
