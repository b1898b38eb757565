/*
The sync package implements tabletsync's pull algorithm. It mirrors the
tablet's document store into a local directory, only transferring files that
changed since the last run.

The tablet's store is flat: every document and folder is a set of files named
after its id (`{id}.metadata`, `{id}.content`, `{id}/`, `{id}.pdf`, ...). The
engine doesn't interpret any of them. It walks the remote tree and, for each
file, compares the remote attributes with the local copy:

  1. If there's no local copy, it's downloaded.
  2. If the sizes differ, it's downloaded. This is cheap and decisive.
  3. If the modification times differ by more than a second, it's
     downloaded. The tolerance absorbs timestamp granularity differences
     between the tablet's filesystem and the local one.

After a download, the local modification time is set to the remote one so
that the next comparison is stable regardless of how long the transfer took.

A single file failing doesn't stop the walk. The whole run is retried when
the connection itself fails.

Engine.Plan runs the same comparison without writing anything, and returns
the files that would be downloaded.
*/
package sync
