/*
sc-count builds a gene x cell count matrix from the barcode-sorted BUS
stream produced by a single-cell RNA-seq pseudoaligner.

Records are grouped by cell barcode and deduplicated by UMI: the reads
of one UMI are collapsed onto the intersection of their equivalence
class gene sets (their union when the intersection is empty), and each
surviving UMI contributes a total weight of 1, split evenly over its
genes. The matrix is written as a MatrixMarket triple (matrix.mtx,
barcodes.tsv, genes.tsv), optionally bgzip-compressed, or as a
recordio dump that reloads exactly.

Sample usage:
sc-count \
    -ec output.ec \
    -transcripts transcripts.txt \
    -t2g t2g.tsv \
    -whitelist 737K-august-2016.txt \
    -out counts \
    output.bus

Inputs that are not barcode-sorted can be sorted on the fly with
-sort. With -correct, barcodes within Hamming distance 1 of a unique
whitelist entry are snapped onto it before counting. When no external
whitelist exists, -whitelist-output derives one from the barcode read
counts with a knee filter.
*/
package main
