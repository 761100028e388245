/*
Package hg provides a client library for working with Mercurial repositories.

Instead of spawning one hg process per operation, hg drives a long-lived
`hg serve --cmdserver pipe` server and exposes the results as Go values.

hg consists of following components:
  - Repository - a local repository; runs commands and caches changesets.
  - Changeset - one revision; most fields are fetched lazily on first access.
  - RevSet - a lazy query builder that compiles to Mercurial revset expressions.
  - diff - model and parser for the output of `hg diff --git`, including git
    binary patches.
  - base85 - the codec git binary patches are encoded with.
  - cmdserver - the command server wire protocol.

File contents at a revision are streamed through a dedicated one-shot hg
process so the server connection stays free for commands.
*/
package hg
