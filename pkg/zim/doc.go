// Package zim reads and writes ZIM archives: content-addressed,
// self-contained containers for large bodies of web-like content.
//
// The Creator streams items into compressed clusters with bounded memory,
// parallel compression workers and a single ordered writer; the final
// layout (redirect targets, mime renumbering, entry indexes, order
// tables, MD5 trailer) is fixed up when Finish is called. The Archive
// side gives random access to entries by path, index or title through
// LRU dirent and cluster caches.
package zim
